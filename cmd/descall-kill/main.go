// Command descall-kill is a thin client of the killscript command: it
// dials a desd control socket, issues `killscript SERVICE_NAME SCRIPT`,
// and prints the reply. Exit 0 on reaped or not_running, exit 1 on a
// malformed request or a transport failure, exit 2 if the service is
// still running when the script's steps are exhausted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/axondata/desd/killscript"
	"github.com/axondata/desd/proto"
)

func clientRegistry() proto.Registry {
	return proto.NewRegistry(proto.Entry{
		Name: "killscript",
		Validate: func(args []string) bool {
			return len(args) == 2 && killscript.FieldPattern.MatchString(args[1])
		},
	})
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("descall-kill", flag.ExitOnError)
	control := fs.String("control", "", "path to the desd control socket")
	_ = fs.Parse(args)

	rest := fs.Args()
	if *control == "" || len(rest) != 2 {
		fmt.Fprintln(os.Stderr, "usage: descall-kill --control PATH SERVICE_NAME SCRIPT")
		return 1
	}
	service, script := rest[0], rest[1]

	conn, err := net.Dial("unix", *control)
	if err != nil {
		fmt.Fprintln(os.Stderr, "descall-kill:", err)
		return 1
	}
	defer conn.Close()

	ep := proto.NewClientEndpoint(context.Background(), conn, clientRegistry())
	defer func() { _ = ep.Shutdown() }()

	reply, err := ep.SendMsg("killscript", service, script)
	if err != nil {
		fmt.Fprintln(os.Stderr, "descall-kill:", err)
		var cmdErr *proto.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Class() == "still_running" {
			return 2
		}
		return 1
	}

	fmt.Println(reply)
	return 0
}
