package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/inconshreveable/log15"
	"github.com/spf13/cobra"

	"github.com/GESkunkworks/snapkeeper"
)

const defaultRegion = "us-east-1"

type options struct {
	volume   string
	instance string
	device   string
	region   string
	name     string
	keep     bool
	wait     bool
	loglevel string
	manifest string
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "snapkeeper",
		Short:         "Create tagged EBS snapshots of a volume, a device, or all data volumes on an instance",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(&opts)
		},
	}
	cmd.Flags().StringVar(&opts.volume, "volume", "", "back up this volume id")
	cmd.Flags().StringVar(&opts.instance, "instance", "", "instance id owning the target volumes")
	cmd.Flags().StringVar(&opts.device, "device", "", "back up the volume attached at this device path (requires --instance)")
	cmd.Flags().StringVar(&opts.region, "region", defaultRegion, "AWS region")
	cmd.Flags().StringVar(&opts.name, "name", "", "name used in snapshot descriptions (default: local hostname)")
	cmd.Flags().BoolVar(&opts.keep, "keep", false, "mark the snapshots to be retained by the cleanup job")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "block until each snapshot completes")
	cmd.Flags().StringVar(&opts.loglevel, "loglevel", "info", "log level: debug, info, warn, or error")
	cmd.Flags().StringVar(&opts.manifest, "manifest", "", "write a CSV manifest of created snapshots to this file")
	return cmd
}

// selection maps the mode flags onto a target selection, enforcing that
// exactly one mode was requested.
func selection(opts *options) (sel snapkeeper.Selection, err error) {
	switch {
	case opts.volume != "" && opts.instance == "" && opts.device == "":
		return snapkeeper.ByVolume(opts.volume), nil
	case opts.device != "" && opts.instance != "" && opts.volume == "":
		return snapkeeper.ByDevice(opts.instance, opts.device), nil
	case opts.instance != "" && opts.device == "" && opts.volume == "":
		return snapkeeper.ByInstance(opts.instance), nil
	case opts.device != "":
		return sel, errors.New("--device requires --instance and excludes --volume")
	}
	return sel, errors.New("exactly one of --volume, --device, or --instance is required")
}

func newLogger(loglevel string) (log15.Logger, error) {
	lvl, err := log15.LvlFromString(loglevel)
	if err != nil {
		return nil, err
	}
	logger := log15.New()
	logger.SetHandler(
		log15.LvlFilterHandler(
			lvl,
			log15.StreamHandler(os.Stdout, log15.LogfmtFormat()),
		),
	)
	return logger, nil
}

func run(opts *options) error {
	logger, err := newLogger(opts.loglevel)
	if err != nil {
		return err
	}

	sel, err := selection(opts)
	if err != nil {
		return err
	}

	sess, err := session.NewSession(aws.NewConfig().WithRegion(opts.region))
	if err != nil {
		return err
	}

	input := snapkeeper.RunInput{
		Selection: sel,
		Provider:  snapkeeper.NewAWSProvider(sess),
		Keep:      &opts.keep,
		Wait:      &opts.wait,
		Logger:    &logger,
	}
	if opts.name != "" {
		input.Name = &opts.name
	}
	if opts.manifest != "" {
		input.OutfileManifest = &opts.manifest
	}
	r, err := snapkeeper.New(&input)
	if err != nil {
		return err
	}

	runErr := r.Start()
	if opts.manifest != "" && len(r.Results) > 0 {
		if err := r.ExportResults(); err != nil {
			logger.Error("could not write manifest", "error", err.Error())
		}
	}
	if runErr != nil {
		logger.Error("backup run failed", "error", runErr.Error())
		return runErr
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// run() logs fatal errors through the run's logger, but flag and
		// setup errors surface before that logger exists
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
