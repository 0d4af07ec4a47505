// Command checkbp generates synthetic inequality instances and recovers
// their secrets with belief propagation on a factor graph.
package main

import (
	"log"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Printf("[checkbp] %v", err)
		os.Exit(1)
	}
}
