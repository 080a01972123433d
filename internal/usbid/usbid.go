// Package usbid reads the usb.ids database maintained by the Linux USB
// project: vendor, product and class names keyed by their numeric IDs.
//
// A nil or empty Database answers every lookup with the empty string, so
// callers can print names opportunistically when no database exists.
package usbid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// DefaultPaths lists the usual locations of usb.ids.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
	"/usr/share/usb.ids",
}

// Database holds the parsed names.
type Database struct {
	vendors   map[uint16]string
	products  map[uint32]string // vid<<16 | pid
	classes   map[uint8]string
	subclass  map[uint16]string // class<<8 | subclass
	protocols map[uint32]string // class<<16 | subclass<<8 | protocol
}

// Open parses the first readable file among paths, or DefaultPaths when
// paths is empty. It returns an error wrapping fs.ErrNotExist when none
// exists.
func Open(paths ...string) (*Database, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("usbid: %w", err)
		}
		db, err := Parse(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("usbid: %s: %w", path, err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("usbid: no database in %s: %w", strings.Join(paths, ", "), fs.ErrNotExist)
}

// section is the part of the file a line belongs to.
type section int

const (
	sectionNone section = iota
	sectionVendor
	sectionClass
)

// hexField parses the n hex digits at the start of s followed by
// whitespace and returns the value and the name after it.
func hexField(s string, n int) (uint64, string, bool) {
	if len(s) < n+1 || (s[n] != ' ' && s[n] != '\t') {
		return 0, "", false
	}
	v, err := strconv.ParseUint(s[:n], 16, 4*n)
	if err != nil {
		return 0, "", false
	}
	return v, strings.TrimSpace(s[n:]), true
}

// Parse reads a database in usb.ids format. Lines it does not understand
// are skipped; only read errors are returned.
func Parse(r io.Reader) (*Database, error) {
	db := &Database{
		vendors:   make(map[uint16]string),
		products:  make(map[uint32]string),
		classes:   make(map[uint8]string),
		subclass:  make(map[uint16]string),
		protocols: make(map[uint32]string),
	}

	sc := bufio.NewScanner(r)
	var (
		sect     section
		vid      uint16
		class    uint8
		subclass uint8
	)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		switch {
		case strings.HasPrefix(line, "\t\t"):
			if sect != sectionClass {
				continue // vendor interface lines
			}
			if v, name, ok := hexField(line[2:], 2); ok {
				db.protocols[uint32(class)<<16|uint32(subclass)<<8|uint32(v)] = name
			}

		case line[0] == '\t':
			switch sect {
			case sectionVendor:
				if v, name, ok := hexField(line[1:], 4); ok {
					db.products[uint32(vid)<<16|uint32(v)] = name
				}
			case sectionClass:
				if v, name, ok := hexField(line[1:], 2); ok {
					subclass = uint8(v)
					db.subclass[uint16(class)<<8|uint16(subclass)] = name
				}
			}

		case strings.HasPrefix(line, "C "):
			sect = sectionNone
			if v, name, ok := hexField(line[2:], 2); ok {
				sect, class = sectionClass, uint8(v)
				db.classes[class] = name
			}

		default:
			sect = sectionNone
			if v, name, ok := hexField(line, 4); ok {
				sect, vid = sectionVendor, uint16(v)
				db.vendors[vid] = name
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return db, nil
}

// Vendor returns the name of vendor vid.
func (db *Database) Vendor(vid uint16) string {
	if db == nil {
		return ""
	}
	return db.vendors[vid]
}

// Product returns the name of product pid of vendor vid.
func (db *Database) Product(vid, pid uint16) string {
	if db == nil {
		return ""
	}
	return db.products[uint32(vid)<<16|uint32(pid)]
}

// Class returns the name of a device or interface class.
func (db *Database) Class(class uint8) string {
	if db == nil {
		return ""
	}
	return db.classes[class]
}

// SubClass returns the name of a subclass of class.
func (db *Database) SubClass(class, subclass uint8) string {
	if db == nil {
		return ""
	}
	return db.subclass[uint16(class)<<8|uint16(subclass)]
}

// Protocol returns the name of a protocol of class and subclass.
func (db *Database) Protocol(class, subclass, protocol uint8) string {
	if db == nil {
		return ""
	}
	return db.protocols[uint32(class)<<16|uint32(subclass)<<8|uint32(protocol)]
}

// Len returns the number of vendors and products.
func (db *Database) Len() (vendors, products int) {
	if db == nil {
		return 0, 0
	}
	return len(db.vendors), len(db.products)
}
