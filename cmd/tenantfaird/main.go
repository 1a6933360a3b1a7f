// Command tenantfaird runs one scheduler replica: it connects to the
// shared Redis backend, forwards dispatched requests to a downstream
// pipeline over HTTP, and serves the admin API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
