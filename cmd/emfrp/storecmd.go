package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/chazu/emfrp/server"
)

var (
	storeCommand = cli.Command{
		Name:  "store",
		Usage: "Manage the program store",
		Subcommands: []cli.Command{
			{
				Action:    storeAdd,
				Name:      "add",
				Usage:     "Store a load buffer under a name",
				ArgsUsage: "<name> <file>",
			},
			{
				Action: storeList,
				Name:   "list",
				Usage:  "List stored programs",
			},
			{
				Action:    storeRemove,
				Name:      "rm",
				Usage:     "Delete a stored program",
				ArgsUsage: "<name|id>",
			},
		},
	}

	remoteAddrFlag = cli.StringFlag{
		Name:  "url",
		Usage: "machine service base URL",
		Value: "http://localhost:4568",
	}

	remoteCommand = cli.Command{
		Name:  "remote",
		Usage: "Drive a machine served by emfrp serve",
		Flags: []cli.Flag{remoteAddrFlag},
		Subcommands: []cli.Command{
			{
				Action:    remoteLoad,
				Name:      "load",
				Usage:     "Install a load buffer file, or a program stored on the server",
				ArgsUsage: "<file|program>",
			},
			{
				Action:    remoteTick,
				Name:      "tick",
				Usage:     "Run ticks on the remote machine",
				ArgsUsage: "[n]",
			},
			{
				Action: remoteNodes,
				Name:   "nodes",
				Usage:  "Print the remote node graph",
			},
			{
				Action: remoteInfo,
				Name:   "info",
				Usage:  "Print the remote machine ID and counters",
			},
		},
	}
)

func storeAdd(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: emfrp store add <name> <file>")
	}
	code, err := os.ReadFile(c.Args().Get(1))
	if err != nil {
		return err
	}
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	rec, err := s.Put(context.Background(), c.Args().First(), code)
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s  %d bytes\n", rec.ID, rec.Name, rec.Size)
	return nil
}

func storeList(c *cli.Context) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	recs, err := s.List(context.Background())
	if err != nil {
		return err
	}
	for _, rec := range recs {
		fmt.Printf("%-20s %6d  %s  %s\n", rec.Name, rec.Size, rec.Hash[:12], rec.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func storeRemove(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: emfrp store rm <name|id>")
	}
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Delete(context.Background(), c.Args().First())
}

func remoteClient(c *cli.Context) *server.Client {
	return server.NewClient(http.DefaultClient, c.Parent().String(remoteAddrFlag.Name))
}

func remoteLoad(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: emfrp remote load <file|program>")
	}
	ref := c.Args().First()
	client := remoteClient(c)

	var (
		res *server.LoadResponse
		err error
	)
	if code, rerr := os.ReadFile(ref); rerr == nil {
		res, err = client.Load(context.Background(), code)
	} else if os.IsNotExist(rerr) {
		res, err = client.LoadProgram(context.Background(), ref)
	} else {
		return rerr
	}
	if err != nil {
		return err
	}
	fmt.Printf("loaded, %d nodes\n", res.Nodes)
	return nil
}

func remoteTick(c *cli.Context) error {
	n := 1
	if c.NArg() > 0 {
		v, err := strconv.Atoi(c.Args().First())
		if err != nil {
			return errors.Wrap(err, "tick count")
		}
		n = v
	}
	res, err := remoteClient(c).Tick(context.Background(), n)
	if err != nil {
		return err
	}
	printNodes(res.Ticks, res.Nodes)
	if res.Error != "" {
		return errors.Errorf("tick %d failed (%s): %s", res.Ticks+1, res.Status, res.Error)
	}
	return nil
}

func remoteNodes(c *cli.Context) error {
	res, err := remoteClient(c).Nodes(context.Background())
	if err != nil {
		return err
	}
	for _, n := range res.Nodes {
		fmt.Println(n)
	}
	return nil
}

func remoteInfo(c *cli.Context) error {
	res, err := remoteClient(c).Info(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("machine %s\n  ticks %d  loads %d  failures %d  instructions %d\n",
		res.ID, res.Ticks, res.Loads, res.Failures, res.Instructions)
	return nil
}
