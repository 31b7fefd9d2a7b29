package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	logger        = log.NewLogfmtLogger(os.Stderr)
	stdout        = os.Stdout
	fs            = afero.NewOsFs()
	verboseOutput bool
)

func mainE() error {
	app := kingpin.New(filepath.Base(os.Args[0]), "Dumps, links and recombines GameCube DOL and REL files.").UsageWriter(os.Stdout)
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("false").BoolVar(&verboseOutput)

	dumpCmd := app.Command("dump", "Write the sections of a DOL and its RELs to separate files, unlinked and linked.")
	dumpArgs := addDumpParams(dumpCmd)

	symbolsCmd := app.Command("symbols", "Convert linker maps into a symbol table.")
	symbolsArgs := addSymbolsParams(symbolsCmd)

	combineCmd := app.Command("combine", "Build one REL from selected data of other RELs.")
	combineArgs := addCombineParams(combineCmd)

	infoCmd := app.Command("info", "Print the section tables of DOL and REL files.")
	infoArgs := addInfoParams(infoCmd)

	parsedCmd, err := app.Parse(os.Args[1:])
	if err != nil {
		return err
	}
	if !verboseOutput {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	ctx := context.Background()
	switch parsedCmd {
	case dumpCmd.FullCommand():
		return runDump(ctx, dumpArgs)
	case symbolsCmd.FullCommand():
		return runSymbols(symbolsArgs)
	case combineCmd.FullCommand():
		return runCombine(combineArgs)
	case infoCmd.FullCommand():
		return runInfo(infoArgs)
	}
	return fmt.Errorf("unknown command %q", parsedCmd)
}

func main() {
	if err := mainE(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
