// Command cellnet brings up and supervises the cellular data connection of
// a SIMCom SIM7080 or SIM800 modem.
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
