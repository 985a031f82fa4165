// Command fiducial estimates registrations between fiducial sets and runs the
// accuracy simulations built on them.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/fiducial.report/internal/version"
)

var errUnknownCommand = errors.New("unknown command")

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("fiducial: ")

	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	if err := a.run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		if errors.Is(err, errUnknownCommand) {
			a.printUsage()
		}
		log.Fatalf("%v", err)
	}
}

// app carries the output streams so subcommands can be exercised in tests.
type app struct {
	stdout io.Writer
	stderr io.Writer
}

func (a *app) run(args []string) error {
	if len(args) < 1 {
		a.printUsage()
		return fmt.Errorf("%w: none given", errUnknownCommand)
	}

	command, rest := args[0], args[1:]
	switch command {
	case "compute":
		return a.handleCompute(rest)
	case "solve":
		return a.handleSolve(rest)
	case "loo":
		return a.handleLOO(rest)
	case "coverage":
		return a.handleCoverage(rest)
	case "likelihood":
		return a.handleLikelihood(rest)
	case "bias":
		return a.handleBias(rest)
	case "sweep":
		return a.handleSweep(rest)
	case "generate":
		return a.handleGenerate(rest)
	case "image":
		return a.handleImage(rest)
	case "version":
		fmt.Fprintf(a.stdout, "fiducial version %s\n", version.String())
		return nil
	case "help", "-h", "--help":
		a.printUsage()
		return nil
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, command)
	}
}

func (a *app) printUsage() {
	fmt.Fprintln(a.stderr, `fiducial - fiducial registration and accuracy simulation

Usage: fiducial <command> [options]

Commands:
  compute     Fit a transformation to source/target datasets
  solve       Compare the maximum-likelihood backends on one problem
  loo         Leave-one-out simulation over noisy copies of a fiducial set
  coverage    Monte-Carlo coverage of confidence regions
  likelihood  Likelihood-ratio test simulation
  bias        Average of refitted transformations under noise
  sweep       Held-out error against fiducial count
  generate    Write a random dataset or transformation
  image       Draw confidence ellipses for one random registration
  version     Show version
  help        Show this help message

Common Flags:
  -config <file>                JSON run configuration
  -n <count>                    Number of fiducials (default 10)
  -alpha <level>                Confidence level (default 0.95)
  -width, -height <size>        Simulation extent (default 512x512)
  -trials <count>               Monte-Carlo trials (default 1000)
  -workers <count>              Worker goroutines, 0 = one per CPU
  -seed <seed>                  Random seed
  -transformation-model <type>  Fitted model: rigid, similarity, affine
  -noise-model <model>          isotropic or anisotropic
  -truth <type>                 Family of simulated transformations
  -noise-covariance <values>    Row-major covariance, e.g. 100,0,0,100
  -solver <name>                interior-point, cg or simplex

Run 'fiducial <command> -h' for the flags of one command.`)
}
