package main

import (
	"github.com/urfave/cli/v2"
)

var profileCommand = &cli.Command{
	Name:   "profile",
	Usage:  "print the effective profile as TOML, defaults filled in",
	Action: printProfile,
}

func printProfile(c *cli.Context) error {
	p, err := loadProfile(c)
	if err != nil {
		return err
	}
	return p.Encode(c.App.Writer)
}
