// Command wordwise runs the adaptive-learning server and its maintenance
// jobs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wordwise: %v\n", err)
		os.Exit(1)
	}
}
