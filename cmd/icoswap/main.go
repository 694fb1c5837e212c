package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/schollz/cli/v2"
	log "github.com/schollz/logger"

	"github.com/dentalwings/icoswap"
	"github.com/dentalwings/icoswap/rsrc"
)

var Version = "v1.0.0-dev"

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.NewApp()
	app.Name = "icoswap"
	app.Version = Version
	app.Usage = "replace the icon of a Windows executable"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "debug", Usage: "increase verbosity", EnvVars: []string{"ICOSWAP_DEBUG"}},
	}
	app.Before = func(c *cli.Context) error {
		if c.Bool("debug") {
			log.SetLevel("debug")
		} else {
			log.SetLevel("info")
		}
		return nil
	}
	app.Commands = []*cli.Command{
		{
			Name:      "replace",
			Usage:     "replace the icon group and images of an executable",
			ArgsUsage: "FILE.exe FILE.ico",
			Flags: []cli.Flag{
				&cli.UintFlag{Name: "lang", Usage: "resource language id (0 is neutral)", EnvVars: []string{"ICOSWAP_LANG"}},
				&cli.StringFlag{Name: "versioninfo", Usage: "also write version info from a goversioninfo JSON file", EnvVars: []string{"ICOSWAP_VERSIONINFO"}},
				&cli.BoolFlag{Name: "checksum", Usage: "write the PE checksum even if the executable had none", EnvVars: []string{"ICOSWAP_CHECKSUM"}},
			},
			Action: replace,
		},
		{
			Name:      "list",
			Usage:     "list the icon groups of an executable",
			ArgsUsage: "FILE.exe",
			Action:    list,
		},
		{
			Name:      "syso",
			Usage:     "write a .syso object with the icon for the Go linker",
			ArgsUsage: "FILE.ico",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "rsrc.syso", Usage: "output file", EnvVars: []string{"ICOSWAP_OUT"}},
				&cli.StringFlag{Name: "arch", Value: "amd64", Usage: "one of 386, amd64, arm, arm64", EnvVars: []string{"ICOSWAP_ARCH"}},
				&cli.StringFlag{Name: "versioninfo", Usage: "goversioninfo JSON file", EnvVars: []string{"ICOSWAP_VERSIONINFO"}},
			},
			Action: syso,
		},
	}
	return app.Run(args)
}

func replace(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: icoswap replace FILE.exe FILE.ico")
	}
	if c.Uint("lang") > 0xffff {
		return errors.Errorf("language id %d out of range", c.Uint("lang"))
	}
	cfg := icoswap.Config{Lang: uint16(c.Uint("lang")), CheckSum: c.Bool("checksum")}
	if path := c.String("versioninfo"); path != "" {
		vi, err := rsrc.LoadVersionInfo(path)
		if err != nil {
			return err
		}
		cfg.VersionInfo = vi
	}
	return cfg.ReplaceIcon(c.Args().Get(0), c.Args().Get(1))
}

func list(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: icoswap list FILE.exe")
	}
	groups, err := icoswap.ListIcons(c.Args().First())
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("no icon groups")
	}
	for _, g := range groups {
		fmt.Printf("group %v (lang %d): %d images\n", g.Name, g.Lang, len(g.Entries))
		for _, e := range g.Entries {
			fmt.Printf("  #%d  %dx%d  %d bpp  %d bytes\n", e.ID, e.Width, e.Height, e.BitCount, e.BytesInRes)
		}
		if len(g.Missing) > 0 {
			fmt.Printf("  missing images: %v\n", g.Missing)
		}
	}
	return nil
}

func syso(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: icoswap syso [-o FILE.syso] FILE.ico")
	}
	if path := c.String("versioninfo"); path != "" {
		vi, err := rsrc.LoadVersionInfo(path)
		if err != nil {
			return err
		}
		return rsrc.Embed(c.String("out"), c.String("arch"), c.Args().First(), vi)
	}
	return rsrc.Embed(c.String("out"), c.String("arch"), c.Args().First(), nil)
}
