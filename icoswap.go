// Package icoswap replaces the icon of a Windows executable with the images
// of an .ico file.
//
// The group directory and every image are written in one resource update
// session; the executable is either fully updated or left untouched.
package icoswap

import (
	"os"

	"github.com/josephspurrier/goversioninfo"
	"github.com/pkg/errors"
	log "github.com/schollz/logger"
	"github.com/tc-hib/winres"

	"github.com/dentalwings/icoswap/ico"
	"github.com/dentalwings/icoswap/rsrc"
)

// IconGroupID is the RT_GROUP_ICON resource id of the one icon group this
// package manages per executable.
const IconGroupID = 1

var (
	ErrCorrupt      = ico.ErrCorrupt
	ErrAccess       = rsrc.ErrAccess
	ErrInvalidImage = rsrc.ErrInvalidImage
	ErrWriteFailure = rsrc.ErrWriteFailure
)

// Session is an open resource update on one executable. *rsrc.Update is the
// implementation used unless Config.Begin says otherwise.
type Session interface {
	Set(typeID, resID winres.Identifier, langID uint16, data []byte) error
	Delete(typeID, resID winres.Identifier, langID uint16) error
	DeleteType(typeID winres.Identifier) error
	Commit() error
	Discard() error
}

type Config struct {
	// Lang is the language id the resources are written under. Zero is
	// LANG_NEUTRAL.
	Lang uint16
	// GroupID is the RT_GROUP_ICON id; zero means IconGroupID.
	GroupID uint16
	// VersionInfo, if set, is written as the RT_VERSION resource in the
	// same session.
	VersionInfo *goversioninfo.VersionInfo
	// CheckSum makes the default session write the optional header
	// checksum even when the executable had none.
	CheckSum bool
	// Begin opens the update session. Defaults to rsrc.BeginUpdate.
	Begin func(path string) (Session, error)
}

func (c Config) beginUpdate(path string) (Session, error) {
	var opts []rsrc.Option
	if c.CheckSum {
		opts = append(opts, rsrc.WithCheckSum())
	}
	u, err := rsrc.BeginUpdate(path, false, opts...)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ReplaceIcon replaces the icon group of the executable at exePath with the
// images of the .ico file at icoPath, using the zero Config.
func ReplaceIcon(exePath, icoPath string) error {
	return Config{}.ReplaceIcon(exePath, icoPath)
}

// ReplaceIcon replaces the icon group of the executable at exePath with the
// images of the .ico file at icoPath.
//
// The new group becomes the only RT_GROUP_ICON of the executable and its
// images, with ids 1..N in file order, the only RT_ICON resources. Other
// resources are kept. Errors match ErrCorrupt, ErrAccess, ErrInvalidImage or
// ErrWriteFailure under errors.Is, except when icoPath itself cannot be
// read.
func (c Config) ReplaceIcon(exePath, icoPath string) error {
	data, err := os.ReadFile(icoPath)
	if err != nil {
		return errors.Wrap(err, "reading icon file")
	}
	icon, err := ico.Parse(data)
	if err != nil {
		return errors.WithMessage(err, icoPath)
	}
	group := ico.BuildGroup(icon.ICONDIR, icon.Entries)
	log.Debugf("%s: %d images, %d bytes", icoPath, len(icon.Entries), icon.Len())

	groupID := c.GroupID
	if groupID == 0 {
		groupID = IconGroupID
	}
	begin := c.Begin
	if begin == nil {
		begin = c.beginUpdate
	}

	s, err := begin(exePath)
	if err != nil {
		return rsrc.Classify(ErrAccess, err)
	}
	defer s.Discard()

	// Old images are only reachable through old groups, and both go.
	if err := s.DeleteType(winres.RT_GROUP_ICON); err != nil {
		return rsrc.Classify(ErrWriteFailure, err)
	}
	if err := s.DeleteType(winres.RT_ICON); err != nil {
		return rsrc.Classify(ErrWriteFailure, err)
	}

	if err := s.Set(winres.RT_GROUP_ICON, winres.ID(groupID), c.Lang, group.Bytes()); err != nil {
		return rsrc.Classify(ErrWriteFailure, errors.WithMessage(err, "icon group"))
	}
	for i, e := range group.Entries {
		img, err := icon.Image(i)
		if err != nil {
			return errors.WithMessage(err, icoPath)
		}
		if err := s.Set(winres.RT_ICON, winres.ID(e.ID), c.Lang, img); err != nil {
			return rsrc.Classify(ErrWriteFailure, errors.WithMessagef(err, "icon %d", e.ID))
		}
	}

	if c.VersionInfo != nil {
		if err := s.Set(winres.RT_VERSION, winres.ID(1), c.Lang, rsrc.VersionResource(c.VersionInfo)); err != nil {
			return rsrc.Classify(ErrWriteFailure, errors.WithMessage(err, "version info"))
		}
	}

	if err := s.Commit(); err != nil {
		return rsrc.Classify(ErrWriteFailure, err)
	}
	log.Infof("replaced icon of %s with %d images from %s", exePath, len(group.Entries), icoPath)
	return nil
}
