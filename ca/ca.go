// Package ca plays the certifying side: it holds the keys of a root and,
// optionally, a subnet, builds the trees services certify, and issues the
// certificates and headers a verifier checks.
package ca

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	gopath "path"
	"path/filepath"

	"github.com/nightlyone/lockfile"
	"gopkg.in/yaml.v3"
)

var (
	ErrClosed      = errors.New("Handle is closed")
	ErrKeyMismatch = errors.New("Key doesn't match the public key in params")
)

type NewOpts struct {
	// Fields below are optional.

	// If set, a subnet key is created as well, and the root delegates
	// the given ranges to the subnet.
	SubnetID []byte
	Ranges   []Range
}

// Params is the public part of the state, stored as YAML.
type Params struct {
	RootKey   string       `yaml:"root_key"`
	SubnetID  string       `yaml:"subnet_id,omitempty"`
	SubnetKey string       `yaml:"subnet_key,omitempty"`
	Ranges    []ParamRange `yaml:"canister_ranges,omitempty"`
}

type ParamRange struct {
	Low  string `yaml:"low"`
	High string `yaml:"high"`
}

// Handle for exclusive access to the keys of a test network.
type Handle struct {
	network Network
	params  Params
	flock   lockfile.Lockfile
	path    string
	closed  bool
}

func (h *Handle) Params() Params {
	return h.params
}

// Network returns the network with the keys of this state, for issuing
// certificates.
func (h *Handle) Network() (*Network, error) {
	if h.closed {
		return nil, ErrClosed
	}
	return &h.network, nil
}

func (h *Handle) Close() error {
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	return h.flock.Unlock()
}

func (h Handle) rootSeedPath() string {
	return gopath.Join(h.path, "root.seed")
}

func (h Handle) subnetSeedPath() string {
	return gopath.Join(h.path, "subnet.seed")
}

func (h Handle) paramsPath() string {
	return gopath.Join(h.path, "params.yaml")
}

func (h *Handle) lock() error {
	lockPath := gopath.Join(h.path, "lock")
	absLockPath, err := filepath.Abs(lockPath)
	if err != nil {
		return fmt.Errorf("filepath.Abs(%s): %w", lockPath, err)
	}
	flock, err := lockfile.New(absLockPath)
	if err != nil {
		return fmt.Errorf("Creating lock %s: %w", absLockPath, err)
	}
	h.flock = flock
	if err := flock.TryLock(); err != nil {
		return fmt.Errorf("Acquiring lock %s: %w", absLockPath, err)
	}
	return nil
}

// Load the keys of a test network, and acquire lock.
//
// Call Handle.Close() when done.
func Open(path string) (*Handle, error) {
	h := Handle{
		path: path,
	}
	if err := h.lock(); err != nil {
		return nil, err
	}
	unlock := true
	defer func() {
		if unlock {
			h.flock.Unlock()
		}
	}()

	paramsBuf, err := os.ReadFile(h.paramsPath())
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", h.paramsPath(), err)
	}
	if err := yaml.Unmarshal(paramsBuf, &h.params); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", h.paramsPath(), err)
	}

	h.network.Root, err = loadAuthority(h.rootSeedPath(), h.params.RootKey)
	if err != nil {
		return nil, err
	}

	if h.params.SubnetKey != "" {
		h.network.Subnet, err = loadAuthority(h.subnetSeedPath(), h.params.SubnetKey)
		if err != nil {
			return nil, err
		}
		h.network.SubnetID, err = hex.DecodeString(h.params.SubnetID)
		if err != nil {
			return nil, fmt.Errorf("parsing subnet_id: %w", err)
		}
		for _, r := range h.params.Ranges {
			low, err := hex.DecodeString(r.Low)
			if err != nil {
				return nil, fmt.Errorf("parsing canister range: %w", err)
			}
			high, err := hex.DecodeString(r.High)
			if err != nil {
				return nil, fmt.Errorf("parsing canister range: %w", err)
			}
			h.network.Ranges = append(h.network.Ranges, Range{Low: low, High: high})
		}
	}

	unlock = false
	return &h, nil
}

func loadAuthority(seedPath, publicKey string) (*Authority, error) {
	seed, err := os.ReadFile(seedPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", seedPath, err)
	}
	info, err := os.Stat(seedPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", seedPath, err)
	}
	perm := info.Mode().Perm()
	if perm != 0o400 {
		return nil, fmt.Errorf("incorrect filemode on %s: %o ≠ 0400", seedPath, perm)
	}
	a, err := NewAuthority(seed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", seedPath, err)
	}
	expected, err := hex.DecodeString(publicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if !bytes.Equal(expected, a.PublicKey()) {
		return nil, fmt.Errorf("%s: %w", seedPath, ErrKeyMismatch)
	}
	return a, nil
}

func newSeed(path string) (*Authority, error) {
	seed := make([]byte, MinSeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	a, err := NewAuthority(seed)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, seed, 0o400); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	return a, nil
}

// Creates the keys of a new test network, and opens it.
//
// Call Handle.Close() when done.
func New(path string, opts NewOpts) (*Handle, error) {
	h := Handle{
		path: path,
	}

	// Check options
	if opts.SubnetID == nil && len(opts.Ranges) != 0 {
		return nil, errors.New("Canister ranges require a SubnetID")
	}
	if opts.SubnetID != nil && len(opts.Ranges) == 0 {
		return nil, errors.New("SubnetID requires canister ranges")
	}

	// Create directory if it doesn't exist
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		err = os.MkdirAll(path, 0o755)
		if err != nil {
			return nil, fmt.Errorf("os.MkdirAll(%s): %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("os.Stat(%s): %w", path, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", path)
	}

	// Now, attain a file lock.
	if err := h.lock(); err != nil {
		return nil, err
	}
	unlock := true
	defer func() {
		if unlock {
			h.flock.Unlock()
		}
	}()

	if h.network.Root, err = newSeed(h.rootSeedPath()); err != nil {
		return nil, err
	}
	h.params.RootKey = hex.EncodeToString(h.network.Root.PublicKey())

	if opts.SubnetID != nil {
		if h.network.Subnet, err = newSeed(h.subnetSeedPath()); err != nil {
			return nil, err
		}
		h.network.SubnetID = opts.SubnetID
		h.network.Ranges = opts.Ranges
		h.params.SubnetID = hex.EncodeToString(opts.SubnetID)
		h.params.SubnetKey = hex.EncodeToString(h.network.Subnet.PublicKey())
		for _, r := range opts.Ranges {
			h.params.Ranges = append(h.params.Ranges, ParamRange{
				Low:  hex.EncodeToString(r.Low),
				High: hex.EncodeToString(r.High),
			})
		}
	}

	paramsBuf, err := yaml.Marshal(&h.params)
	if err != nil {
		return nil, fmt.Errorf("Marshalling params: %w", err)
	}
	if err := os.WriteFile(h.paramsPath(), paramsBuf, 0o644); err != nil {
		return nil, fmt.Errorf("Writing %s: %w", h.paramsPath(), err)
	}

	unlock = false
	return &h, nil
}
