package icoswap

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/tc-hib/winres"

	"github.com/dentalwings/icoswap/ico"
	"github.com/dentalwings/icoswap/pefile"
	"github.com/dentalwings/icoswap/rsrc"
)

// IconGroup is one RT_GROUP_ICON resource of an executable.
type IconGroup struct {
	Name winres.Identifier
	Lang uint16
	ico.GRPICONDIR

	// Missing lists entry ids with no RT_ICON resource in the group's
	// language.
	Missing []uint16
}

// ListIcons returns the icon groups of the executable at exePath in
// resource directory order.
func ListIcons(exePath string) ([]IconGroup, error) {
	raw, err := os.ReadFile(exePath)
	if err != nil {
		return nil, rsrc.Classify(ErrAccess, errors.Wrap(err, "reading executable"))
	}
	img, err := pefile.Load(raw)
	if err != nil {
		return nil, rsrc.Classify(ErrInvalidImage, errors.WithMessage(err, exePath))
	}

	var groups []IconGroup
	img.Resources.WalkType(winres.RT_GROUP_ICON, func(name winres.Identifier, lang uint16, data []byte) bool {
		var dir ico.GRPICONDIR
		dir, err = ico.ParseGroup(data)
		if err != nil {
			err = errors.WithMessagef(err, "icon group %s", nameString(name))
			return false
		}
		g := IconGroup{Name: name, Lang: lang, GRPICONDIR: dir}
		for _, e := range dir.Entries {
			if img.Resources.Get(winres.RT_ICON, winres.ID(e.ID), lang) == nil {
				g.Missing = append(g.Missing, e.ID)
			}
		}
		groups = append(groups, g)
		return true
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// nameString formats a resource name the way resource scripts write it.
func nameString(id winres.Identifier) string {
	if n, ok := id.(winres.ID); ok {
		return fmt.Sprintf("#%d", n)
	}
	return fmt.Sprint(id)
}
