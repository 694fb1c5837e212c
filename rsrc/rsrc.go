// Package rsrc updates the resources of an executable as a single
// transaction, in the manner of the Win32 BeginUpdateResource,
// UpdateResource and EndUpdateResource calls.
package rsrc

import (
	"io"
	"math"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	log "github.com/schollz/logger"
	"github.com/tc-hib/winres"

	"github.com/dentalwings/icoswap/pefile"
)

type State int

const (
	Unopened State = iota
	Open
	Committed
	Discarded
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Open:
		return "open"
	case Committed:
		return "committed"
	case Discarded:
		return "discarded"
	}
	return "invalid"
}

// Update is an exclusive resource-update session on one executable.
// Staged changes reach the file only through Commit; every other exit must
// call Discard, which is a no-op once the session is closed:
//
//	u, err := rsrc.BeginUpdate(path, false)
//	if err != nil {
//		return err
//	}
//	defer u.Discard()
type Update struct {
	path     string
	f        *os.File
	state    State
	img      *pefile.Image
	res      *winres.ResourceSet
	digest   uint64
	checkSum bool
}

type Option func(*Update)

// WithCheckSum makes Commit write the optional header checksum even when
// the executable had none.
func WithCheckSum() Option {
	return func(u *Update) { u.checkSum = true }
}

// BeginUpdate opens path for resource update and locks it against other
// sessions. With deleteExisting, the staged set starts out empty.
//
// It fails with ErrAccess if the file cannot be opened read-write or is
// locked by another session, and with ErrInvalidImage if it is not a PE
// image that can carry resources. It never blocks waiting for a lock.
func BeginUpdate(path string, deleteExisting bool, opts ...Option) (*Update, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, Classify(ErrAccess, errors.Wrap(err, "opening for update"))
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, Classify(ErrAccess, errors.Wrapf(err, "locking %s", path))
	}
	raw, err := io.ReadAll(f)
	if err != nil {
		release(f)
		return nil, Classify(ErrAccess, errors.Wrapf(err, "reading %s", path))
	}
	img, err := pefile.Load(raw)
	if err != nil {
		release(f)
		return nil, Classify(ErrInvalidImage, errors.WithMessage(err, path))
	}

	u := &Update{
		path:   path,
		f:      f,
		state:  Open,
		img:    img,
		res:    pefile.Clone(img.Resources),
		digest: xxhash.Sum64(raw),
	}
	if deleteExisting {
		u.res = &winres.ResourceSet{}
	}
	for _, opt := range opts {
		opt(u)
	}
	log.Debugf("opened %s for update (%d bytes, %d resources)", path, len(raw), img.Resources.Count())
	return u, nil
}

func (u *Update) State() State { return u.state }

func (u *Update) check() error {
	if u.state != Open {
		return errors.Wrapf(ErrWriteFailure, "update session is %v", u.state)
	}
	return nil
}

// Get returns a resource as currently staged, or nil.
func (u *Update) Get(typeID, resID winres.Identifier, langID uint16) []byte {
	if u.res == nil {
		return nil
	}
	return u.res.Get(typeID, resID, langID)
}

// Set stages a copy of data, replacing any resource with the same type,
// name and language.
func (u *Update) Set(typeID, resID winres.Identifier, langID uint16, data []byte) error {
	if err := u.check(); err != nil {
		return err
	}
	if uint64(len(data)) > math.MaxUint32 {
		return errors.Wrapf(ErrWriteFailure, "resource %v/%v is %d bytes", typeID, resID, len(data))
	}
	log.Debugf("staging %v/%v lang %d (%d bytes)", typeID, resID, langID, len(data))
	b := make([]byte, len(data))
	copy(b, data)
	if err := u.res.Set(typeID, resID, langID, b); err != nil {
		return Classify(ErrWriteFailure, errors.Wrapf(err, "staging %v/%v", typeID, resID))
	}
	return nil
}

// Delete stages the removal of one resource.
func (u *Update) Delete(typeID, resID winres.Identifier, langID uint16) error {
	if err := u.check(); err != nil {
		return err
	}
	if err := u.res.Set(typeID, resID, langID, nil); err != nil {
		return Classify(ErrWriteFailure, errors.Wrapf(err, "removing %v/%v", typeID, resID))
	}
	return nil
}

// DeleteType stages the removal of every resource of the given type.
func (u *Update) DeleteType(typeID winres.Identifier) error {
	if err := u.check(); err != nil {
		return err
	}
	type key struct {
		id   winres.Identifier
		lang uint16
	}
	var keys []key
	u.res.WalkType(typeID, func(resID winres.Identifier, langID uint16, _ []byte) bool {
		keys = append(keys, key{resID, langID})
		return true
	})
	for _, k := range keys {
		u.res.Set(typeID, k.id, k.lang, nil)
	}
	log.Debugf("staging removal of %d %v resources", len(keys), typeID)
	return nil
}

// Commit writes all staged changes and ends the session. On failure the
// session is discarded and the file keeps its original content.
func (u *Update) Commit() (err error) {
	if err := u.check(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			u.Discard()
		}
	}()

	var opts []pefile.Option
	if u.checkSum {
		opts = append(opts, pefile.WithCheckSum())
	}
	out, err := u.img.Build(u.res, opts...)
	if err != nil {
		return Classify(ErrWriteFailure, errors.WithMessage(err, u.path))
	}

	current := make([]byte, len(u.img.Bytes())+1)
	n, err := u.f.ReadAt(current, 0)
	if err != nil && err != io.EOF {
		return Classify(ErrWriteFailure, errors.Wrapf(err, "re-reading %s", u.path))
	}
	if n != len(u.img.Bytes()) || xxhash.Sum64(current[:n]) != u.digest {
		return errors.Wrapf(ErrWriteFailure, "%s changed on disk since the update began", u.path)
	}

	if err := u.write(out); err != nil {
		if rerr := u.write(u.img.Bytes()); rerr != nil {
			log.Errorf("restoring %s after failed commit: %v", u.path, rerr)
		}
		return Classify(ErrWriteFailure, errors.Wrapf(err, "writing %s", u.path))
	}

	u.state = Committed
	log.Infof("updated resources of %s (%d -> %d bytes)", u.path, len(u.img.Bytes()), len(out))
	// The new content is on disk; an unlock or close error changes nothing.
	if err := release(u.f); err != nil {
		log.Warnf("releasing %s: %v", u.path, err)
	}
	return nil
}

// Discard ends the session without writing anything. It is safe to call
// on a committed or already discarded session.
func (u *Update) Discard() error {
	if u.state != Open {
		return nil
	}
	u.state = Discarded
	log.Debugf("discarded update of %s", u.path)
	return release(u.f)
}

func (u *Update) write(b []byte) error {
	if _, err := u.f.WriteAt(b, 0); err != nil {
		return err
	}
	if err := u.f.Truncate(int64(len(b))); err != nil {
		return err
	}
	return u.f.Sync()
}

// release is replaced in tests.
var release = releaseFile

func releaseFile(f *os.File) error {
	uerr := unlockFile(f)
	cerr := f.Close()
	if uerr != nil {
		return errors.Wrap(uerr, "unlocking")
	}
	return cerr
}
