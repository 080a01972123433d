package main

import (
	"github.com/urfave/cli/v2"

	"github.com/ardnew/usbcore/device"
)

var describeCommand = &cli.Command{
	Name:   "describe",
	Usage:  "print the descriptors the profile builds, without enumerating",
	Flags:  []cli.Flag{dumpFlag},
	Action: describeDevice,
}

func describeDevice(c *cli.Context) error {
	p, err := loadProfile(c)
	if err != nil {
		return err
	}
	d, err := p.Build()
	if err != nil {
		return err
	}
	db, err := openDatabase(c)
	if err != nil {
		return err
	}

	set := d.Descriptors
	r := &report{w: c.App.Writer, db: db}
	r.str = func(index uint8) string {
		s, err := device.ParseStringDescriptor(set.String(index, device.LangIDUSEnglish))
		if err != nil {
			return ""
		}
		return s
	}

	var desc device.DeviceDescriptor
	if err := device.ParseDeviceDescriptor(set.Device(), &desc); err != nil {
		return err
	}
	r.device(&desc)
	for i := 0; i < set.NumConfigurations(); i++ {
		if err := r.configuration(set.Configuration(uint8(i))); err != nil {
			return err
		}
	}
	if err := r.bos(set.BOS()); err != nil {
		return err
	}
	if c.Bool(dumpFlag.Name) {
		dump(c.App.Writer, desc, p)
	}
	return nil
}
