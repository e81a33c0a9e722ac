// Command replication-ctl is the administrative CLI for the ref-
// replication engine: it talks to a running replication-daemon over its
// unix control socket to list configured destinations and to start or
// stop replication against them.
//
//	replication-ctl -socket /run/replication.sock list --detail
//	replication-ctl -socket /run/replication.sock start --now foo1
//	replication-ctl -socket /run/replication.sock stop --wait 'foo*'
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/gerrit-plugins/replication/internal/replication/control"
)

const progname = "replication-ctl"

type subcmd interface {
	FlagSet() *flag.FlagSet
	Exec(flags *flag.FlagSet, client control.Client) error
}

var subcommands = map[string]subcmd{
	"list":  &listSubcommand{},
	"start": &startSubcommand{},
	"stop":  &stopSubcommand{},
}

func main() {
	socketPath := flag.String("socket", "/run/replication.sock", "path to the daemon's control socket")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	os.Exit(run(*socketPath, args[0], args[1:]))
}

func run(socketPath, name string, rest []string) int {
	cmd, ok := subcommands[name]
	if !ok {
		printfErr("%s: unknown subcommand: %q\n", progname, name)
		return 1
	}

	flags := cmd.FlagSet()
	if err := flags.Parse(rest); err != nil {
		printfErr("%s\n", err)
		return 1
	}

	if err := cmd.Exec(flags, control.Client{Path: socketPath}); err != nil {
		printfErr("%s\n", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-socket PATH] <list|start|stop> [args]\n", progname)
}

func printfErr(format string, a ...interface{}) (int, error) {
	return fmt.Fprintf(os.Stderr, format, a...)
}

type listSubcommand struct {
	remote string
	detail bool
	asJSON bool
}

func (c *listSubcommand) FlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.StringVar(&c.remote, "remote", "", "glob pattern of remote names to list (a positional pattern is used when empty)")
	fs.BoolVar(&c.detail, "detail", false, "include adminUrl, authGroup, and project in the output")
	fs.BoolVar(&c.asJSON, "json", false, "print output as a JSON array")
	return fs
}

func (c *listSubcommand) Exec(flags *flag.FlagSet, client control.Client) error {
	pattern := c.remote
	if pattern == "" {
		pattern = flags.Arg(0)
	}
	resp, err := client.Do(control.Request{Command: "list", Pattern: pattern, Detail: c.detail})
	if err != nil {
		return err
	}

	if c.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Destinations)
	}

	for _, d := range resp.Destinations {
		status := "running"
		if !d.Running {
			status = "stopped"
		}
		if d.Replaying {
			status += ",replaying"
		}
		fmt.Printf("%s\t%s\t%s\n", d.Remote, status, d.URL)
		if c.detail {
			fmt.Printf("  adminUrl: %v\n  authGroup: %v\n  project: %v\n", d.AdminURL, d.AuthGroup, d.Project)
		}
	}
	return nil
}

type startSubcommand struct {
	now  bool
	wait bool
}

func (c *startSubcommand) FlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	fs.BoolVar(&c.now, "now", false, "fire pending batches immediately, bypassing the replication delay")
	fs.BoolVar(&c.wait, "wait", false, "unused for start; accepted for CLI symmetry with stop")
	return fs
}

func (c *startSubcommand) Exec(flags *flag.FlagSet, client control.Client) error {
	_, err := client.Do(control.Request{Command: "start", Pattern: flags.Arg(0), Now: c.now})
	return err
}

type stopSubcommand struct {
	wait bool
}

func (c *stopSubcommand) FlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	fs.BoolVar(&c.wait, "wait", false, "block until in-flight pushes for the matched destinations finish")
	return fs
}

func (c *stopSubcommand) Exec(flags *flag.FlagSet, client control.Client) error {
	_, err := client.Do(control.Request{Command: "stop", Pattern: flags.Arg(0), Wait: c.wait})
	return err
}
