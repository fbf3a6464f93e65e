package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/powermeter/cmd/powermeter/decode"
	"github.com/temoto/powermeter/cmd/powermeter/run"
	"github.com/temoto/powermeter/cmd/powermeter/subcmd"
	"github.com/temoto/powermeter/internal/state"
	"github.com/temoto/powermeter/log2"
)

var log = log2.NewStderr(log2.LDebug)
var BuildVersion string = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	run.Mod,
	run.DumpMod,
	decode.Mod,
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "powermeter.hcl", "")
	cmdline.Usage = func() {
		fmt.Fprintf(cmdline.Output(), "usage: %s [flags] [command]\n\ncommands:\n", os.Args[0])
		for _, m := range modules {
			fmt.Fprintf(cmdline.Output(), "  %-8s %s\n", m.Name, m.Usage)
		}
		fmt.Fprintf(cmdline.Output(), "\nflags:\n")
		cmdline.PrintDefaults()
	}
	_ = cmdline.Parse(os.Args[1:])

	if subcmd.SdNotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	command := cmdline.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		cmdline.Usage()
		log.Fatal(err)
	}

	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion

	var config *state.Config
	if _, err := os.Stat(*flagConfig); os.IsNotExist(err) && mod.ConfigOptional {
		config = &state.Config{}
	} else {
		config = state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	}

	var args []string
	if cmdline.NArg() > 1 {
		args = cmdline.Args()[1:]
	}
	if err := mod.Main(ctx, config, args); err != nil {
		g.Fatal(errors.Annotatef(err, "command=%s", mod.Name))
	}
	g.StopWait(5 * time.Second)
}
