// freqsweep runs hyperopt and backtest sweeps over freqtrade strategies.
package main

import (
	"os"

	"github.com/saltfish/freqsweep/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
