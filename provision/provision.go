// Package provision decides how the data directory of a joining instance
// is seeded.
package provision

import (
	"errors"
	"fmt"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"
)

// ErrNoDonor is returned when an instance must be cloned from a peer but
// no member of the cluster is online.
var ErrNoDonor = errors.New("no online member available as clone donor")

// Seed is the data seeding method for one instance. Implementations are
// SeedEmpty, SeedClone, SeedDump and SeedPeerClone.
type Seed interface {
	Method() string
}

// SeedEmpty starts the instance with an empty data set.
type SeedEmpty struct{}

// SeedClone clones the first instance from an external donor.
type SeedClone struct {
	DonorURL   string
	RootUser   string
	SecretName string
}

// SeedDump loads a dump into the first instance.
type SeedDump struct {
	Name    string
	Path    string
	Storage spec.Storage
	Options map[string]any
}

// SeedPeerClone clones the instance from an online member of the same cluster.
type SeedPeerClone struct {
	Donor mysql.Member
}

func (SeedEmpty) Method() string     { return "empty" }
func (SeedClone) Method() string     { return "clone" }
func (SeedDump) Method() string      { return "dump" }
func (SeedPeerClone) Method() string { return "peerClone" }

// View is the part of the observed cluster the selector needs.
type View struct {
	// Provisioned lists instance indexes whose data was already seeded.
	Provisioned []int
	Members     []mysql.Member
}

// Select returns the seed for instance index. Only instance 0 of a cluster
// that has never provisioned anything uses initDB; every other instance is
// cloned from a live member so that writes after the initial seed reach it
// through clone plus the replication stream. Select never retries.
func Select(c *spec.ClusterSpec, index int, v View) (Seed, error) {
	if index == 0 && len(v.Provisioned) == 0 {
		switch src := c.InitDB.(type) {
		case nil:
			return SeedEmpty{}, nil
		case *spec.CloneInitDB:
			return SeedClone{DonorURL: src.DonorURL, RootUser: src.RootUser, SecretName: src.SecretName}, nil
		case *spec.DumpInitDB:
			return SeedDump{Name: src.Name, Path: src.Path, Storage: src.Storage, Options: src.Options}, nil
		default:
			return nil, fmt.Errorf("unhandled initDB source %T", src)
		}
	}

	donor, ok := Donor(v.Members, index)
	if !ok {
		return nil, fmt.Errorf("instance %d of %s: %w", index, c.Key(), ErrNoDonor)
	}
	return SeedPeerClone{Donor: donor}, nil
}

// Donor picks the member to clone from: the online primary if any, else
// the lowest-index online member. The joining instance is never its own donor.
func Donor(members []mysql.Member, joining int) (mysql.Member, bool) {
	var best mysql.Member
	found := false
	for _, m := range members {
		if !m.Online() || m.Index == joining {
			continue
		}
		if m.Role == mysql.RolePrimary {
			return m, true
		}
		if !found || m.Index < best.Index {
			best = m
			found = true
		}
	}
	return best, found
}
