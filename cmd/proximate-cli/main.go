// Command proximate-cli is a demo and diagnostic tool for the
// proximate remote-object layer, run as two processes joined by a
// netconn unix-domain socket: "serve" exposes a small demo receiver and
// prints the live wire traffic, and "call" dials it, calls the
// receiver's Echo method, and prints the result and the recorded wire
// traffic. The command layout (cli.NewApp, one cli.Command per verb,
// a semver-tagged Version) is grounded on the teacher's kr/kr.go.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/blang/semver"
	"github.com/fatih/color"
	"github.com/op/go-logging"
	"github.com/urfave/cli"

	"github.com/proximate-go/proximate"
	"github.com/proximate-go/proximate/adapters/netconn"
	"github.com/proximate-go/proximate/internal/plog"
)

// Version is the demo binary's own semver tag, independent of any wire
// protocol version; bump it on user-visible CLI changes.
var Version = semver.MustParse("0.1.0")

// demoReceiver is the object the "serve" side exposes as its primary
// receiver: a method that counts its calls and a writable field, enough
// to exercise get/set/call end to end.
type demoReceiver struct {
	Greeting string
	calls    int
}

func (d *demoReceiver) Echo(msg string) string {
	d.calls++
	return fmt.Sprintf("%s (call #%d): %s", d.Greeting, d.calls, msg)
}

func main() {
	app := cli.NewApp()
	app.Name = "proximate-cli"
	app.Usage = "drive a proximate connection over a unix-domain socket"
	app.Version = Version.String()
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "socket",
			Usage: "unix-domain socket path to listen on / dial",
			Value: "/tmp/proximate-cli.sock",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "listen on --socket and expose a demo receiver",
			Action: func(c *cli.Context) error {
				return serve(c.GlobalString("socket"))
			},
		},
		{
			Name:  "call",
			Usage: "dial --socket and call the peer's Echo method",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "message", Value: "hello"},
			},
			Action: func(c *cli.Context) error {
				return call(c.GlobalString("socket"), c.String("message"))
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		color.Red("proximate-cli ▶ %s", err)
		os.Exit(1)
	}
}

func serve(socketPath string) error {
	log := plog.SetupLogging("proximate-cli", logging.INFO)
	listener, err := netconn.Listen(socketPath)
	if err != nil {
		return err
	}
	defer listener.Close()
	color.Green("proximate-cli ▶ listening on %s", socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Error("accept:", err)
			return err
		}
		go func() {
			ep := netconn.New(conn)
			primary := proximate.Wrap(ep,
				proximate.WithReceiver(&demoReceiver{Greeting: "hi there"}),
				proximate.WithLogger(log),
				proximate.WithDebugSink(func(msg []byte, inbound bool) {
					dir := "<-"
					if !inbound {
						dir = "->"
					}
					fmt.Printf("%s %s\n", dir, string(msg))
				}),
			)
			_ = primary
		}()
	}
}

func call(socketPath, message string) error {
	log := plog.SetupLogging("proximate-cli", logging.INFO)
	conn, err := netconn.Dial(socketPath)
	if err != nil {
		return err
	}
	ep := netconn.New(conn)
	primary := proximate.Wrap(ep, proximate.WithLogger(log))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echo, err := primary.Get("Echo")
	if err != nil {
		return err
	}
	result, err := echo.Call(ctx, message)
	if err != nil {
		return err
	}
	color.Cyan("proximate-cli ▶ %v", result)
	for _, raw := range proximate.RecentMessages(primary) {
		color.Yellow("proximate-cli ▶ recent: %s", raw)
	}
	return proximate.Close(ctx, primary)
}
