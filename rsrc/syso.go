package rsrc

import (
	"bytes"
	"os"

	"github.com/josephspurrier/goversioninfo"
	"github.com/pkg/errors"
	log "github.com/schollz/logger"

	"github.com/dentalwings/icoswap/ico"
)

// Embed writes a COFF object (.syso) holding the icon at fnameico and a
// version resource built from vi, for the Go linker to pick up when building
// a Windows executable. vi may be nil and is not modified. arch is one of
// 386, amd64, arm, arm64.
func Embed(fnameout, arch, fnameico string, vi *goversioninfo.VersionInfo) error {
	data, err := os.ReadFile(fnameico)
	if err != nil {
		return errors.Wrapf(err, "Error opening icon file '%s'", fnameico)
	}
	// goversioninfo trusts the .ico directory; check it first.
	c, err := ico.Parse(data)
	if err != nil {
		return errors.WithMessage(err, fnameico)
	}
	for i := range c.Entries {
		if _, err := c.Image(i); err != nil {
			return errors.WithMessage(err, fnameico)
		}
	}

	var v goversioninfo.VersionInfo
	if vi != nil {
		v = *vi
	}
	v.IconPath = fnameico
	v.Buffer = bytes.Buffer{}
	v.Build()
	v.Walk()
	if err := v.WriteSyso(fnameout, arch); err != nil {
		return errors.Wrapf(err, "Error writing %s", fnameout)
	}
	log.Infof("wrote %s (%s) with %d icon images from %s", fnameout, arch, len(c.Entries), fnameico)
	return nil
}

// LoadVersionInfo reads a goversioninfo versioninfo.json file.
func LoadVersionInfo(path string) (*goversioninfo.VersionInfo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading version info")
	}
	vi := &goversioninfo.VersionInfo{}
	if err := vi.ParseJSON(b); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return vi, nil
}

// VersionResource returns the RT_VERSION resource data for vi, leaving vi
// as it was.
func VersionResource(vi *goversioninfo.VersionInfo) []byte {
	v := *vi
	v.Buffer = bytes.Buffer{}
	v.Build()
	v.Walk()
	return v.Buffer.Bytes()
}
