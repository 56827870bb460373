// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package core is the provisioning service. It is the only layer that
// coordinates the store, the address allocator, key generation and the
// tunnel daemon, and the only layer that compensates when a step fails.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/toeirei/netkeeper/internal/crypto/wgkey"
	"github.com/toeirei/netkeeper/internal/db"
	"github.com/toeirei/netkeeper/internal/events"
	"github.com/toeirei/netkeeper/internal/ipam"
	"github.com/toeirei/netkeeper/internal/logging"
	"github.com/toeirei/netkeeper/internal/model"
	"github.com/toeirei/netkeeper/internal/wireguard"
)

// Store is the subset of the profile store the service needs.
type Store interface {
	InTx(ctx context.Context, fn func(tx *db.Tx) error) error
	MaxProfilesPerOwner() int

	AddOwner(ctx context.Context, externalID int64, displayName string) (*model.Owner, bool, error)
	GetOwner(ctx context.Context, id int64) (*model.Owner, error)
	GetOwnerByExternalID(ctx context.Context, externalID int64) (*model.Owner, error)
	ApproveOwner(ctx context.Context, externalID int64) (*model.Owner, error)
	RejectOwner(ctx context.Context, externalID int64) (*model.Owner, error)
	UnbanOwner(ctx context.Context, externalID int64) (*model.Owner, error)
	ResetSiteToken(ctx context.Context, externalID int64) (*model.Owner, error)
	ListOwnersByState(ctx context.Context, state model.OwnerState) ([]model.Owner, error)

	GetProfile(ctx context.Context, id int64) (*model.Profile, error)
	ListProfiles(ctx context.Context, ownerID int64) ([]model.Profile, error)
	CountProfiles(ctx context.Context, ownerID int64) (int, error)
	AllProfiles(ctx context.Context) ([]model.Profile, error)
	RenameProfile(ctx context.Context, id int64, newName string) error
	DeleteProfile(ctx context.Context, id int64) error

	LogAction(ctx context.Context, action, details string) error
}

// PeerController drives the tunnel daemon.
type PeerController interface {
	Activate(ctx context.Context, publicKey string, addr netip.Addr) error
	Deactivate(ctx context.Context, publicKey string) error
	Prune(ctx context.Context, publicKey string) (int, error)
	SetLive(ctx context.Context, publicKey string, addr netip.Addr) error
	Peers(ctx context.Context) ([]wireguard.Peer, error)
}

// ClientSettings are the server-side values rendered into every client config.
type ClientSettings struct {
	DNS             string
	ServerPublicKey string
	Endpoint        string
	Keepalive       int
}

// Deps wires a Provisioner.
type Deps struct {
	Store     Store
	Allocator *ipam.Allocator
	Keys      wgkey.Generator
	Peers     PeerController
	Events    events.Publisher
	Client    ClientSettings
}

// Provisioner implements the caller-facing operations.
type Provisioner struct {
	store  Store
	alloc  *ipam.Allocator
	keys   wgkey.Generator
	peers  PeerController
	events events.Publisher
	client ClientSettings
}

// New validates deps and returns a Provisioner. A nil Events publisher
// discards events.
func New(d Deps) (*Provisioner, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("core: store is required")
	case d.Allocator == nil:
		return nil, errors.New("core: allocator is required")
	case d.Keys == nil:
		return nil, errors.New("core: key generator is required")
	case d.Peers == nil:
		return nil, errors.New("core: peer controller is required")
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Provisioner{
		store:  d.Store,
		alloc:  d.Allocator,
		keys:   d.Keys,
		peers:  d.Peers,
		events: d.Events,
		client: d.Client,
	}, nil
}

// operation carries the per-call id through logs, audit and events.
type operation struct {
	name string
	id   string
	log  *clog.Logger
}

func (p *Provisioner) begin(name string, keyvals ...interface{}) operation {
	id := uuid.NewString()
	kv := append([]interface{}{"op", name, "op_id", id}, keyvals...)
	return operation{name: name, id: id, log: logging.With(kv...)}
}

func (p *Provisioner) audit(ctx context.Context, op operation, action, details string) {
	if err := p.store.LogAction(context.WithoutCancel(ctx), action, fmt.Sprintf("%s (op %s)", details, op.id)); err != nil {
		op.log.Warnf("audit log write failed: %v", err)
	}
}

func (p *Provisioner) publish(ctx context.Context, op operation, e events.Event) {
	e.OperationID = op.id
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if err := p.events.Publish(context.WithoutCancel(ctx), e); err != nil {
		op.log.Warnf("publish %s failed: %v", e.Type, err)
	}
}

func (p *Provisioner) fail(op operation, err error) error {
	cerr := classify(op.name, err)
	var e *Error
	if errors.As(cerr, &e) && e.Kind == KindQuotaExceeded && e.Limit == 0 {
		e.Limit = p.store.MaxProfilesPerOwner()
	}
	switch KindOf(cerr) {
	case KindInternal, KindCompensationFailed:
		op.log.Errorf("%v", cerr)
	default:
		op.log.Debugf("%v", cerr)
	}
	return cerr
}

// ownerFor loads the owner by external id and checks eligibility. When
// mustBeVerified is false only rejected owners are refused.
func (p *Provisioner) ownerFor(ctx context.Context, op operation, externalID int64, mustBeVerified bool) (*model.Owner, error) {
	owner, err := p.store.GetOwnerByExternalID(ctx, externalID)
	if err != nil {
		return nil, p.fail(op, err)
	}
	if owner.IsRejected() || (mustBeVerified && !owner.CanHoldProfiles()) {
		return nil, p.fail(op, &Error{Kind: KindNotEligible, Op: op.name, Err: fmt.Errorf("owner %d is %s", externalID, owner.State)})
	}
	return owner, nil
}

// CreateProfile allocates an address and keys for a new profile, persists
// it, and brings the peer up. The profile is returned only once the peer is
// active. If activation fails the row is removed again.
func (p *Provisioner) CreateProfile(ctx context.Context, externalOwnerID int64, name string, category model.Category) (*model.Profile, error) {
	op := p.begin("create_profile", "owner", externalOwnerID, "name", name)

	cat, err := model.ParseCategory(string(category))
	if err != nil {
		return nil, p.fail(op, err)
	}
	if err := model.ValidateProfileName(name); err != nil {
		return nil, p.fail(op, err)
	}
	owner, err := p.ownerFor(ctx, op, externalOwnerID, true)
	if err != nil {
		return nil, err
	}

	// Fail fast before any allocation or key generation.
	existing, err := p.store.ListProfiles(ctx, owner.ID)
	if err != nil {
		return nil, p.fail(op, err)
	}
	if len(existing) >= p.store.MaxProfilesPerOwner() {
		return nil, p.fail(op, fmt.Errorf("%w: owner %d holds %d", db.ErrQuotaExceeded, externalOwnerID, len(existing)))
	}
	for _, e := range existing {
		if e.Name == name {
			return nil, p.fail(op, fmt.Errorf("%w: %q", db.ErrDuplicateName, name))
		}
	}

	var created *model.Profile
	err = p.store.InTx(ctx, func(tx *db.Tx) error {
		np := model.NewProfile{OwnerID: owner.ID, Name: name, Category: cat}
		if err := tx.CheckNewProfile(ctx, np); err != nil {
			return err
		}
		used, err := tx.AssignedAddresses(ctx)
		if err != nil {
			return err
		}
		addr, err := p.alloc.Allocate(cat, ipam.NewAddressSet(used...))
		if err != nil {
			return err
		}
		kp, err := p.keys.Generate(ctx)
		if err != nil {
			return err
		}
		np.Address = addr
		np.PrivateKey = kp.Private
		np.PublicKey = kp.Public
		np.Config = wireguard.RenderClientConfig(wireguard.ClientConfigParams{
			PrivateKey:      kp.Private,
			Address:         addr,
			DNS:             p.client.DNS,
			ServerPublicKey: p.client.ServerPublicKey,
			Endpoint:        p.client.Endpoint,
			AllowedIPs:      p.alloc.Network(),
			Keepalive:       p.client.Keepalive,
		})
		created, err = tx.InsertProfile(ctx, np)
		return err
	})
	if err != nil {
		return nil, p.fail(op, err)
	}
	op.log.Debugf("profile %d stored at %s, activating", created.ID, created.Address)

	if err := p.peers.Activate(ctx, created.PublicKey, created.Address); err != nil {
		return nil, p.compensateCreate(ctx, op, created, err)
	}

	p.audit(ctx, op, "CREATE_PROFILE", fmt.Sprintf("owner: %d, profile: %s", externalOwnerID, created))
	p.publish(ctx, op, events.Event{
		Type:            events.ProfileCreated,
		OwnerExternalID: externalOwnerID,
		ProfileID:       created.ID,
		ProfileName:     created.Name,
		Category:        string(created.Category),
		Address:         created.Address.String(),
	})
	op.log.Infof("created profile %d %s for owner %d", created.ID, created, externalOwnerID)
	return created, nil
}

// compensateCreate undoes a stored profile whose activation failed. When the
// peer is or may be live it is removed first; if that fails the row is kept
// so its address is not handed out again while the daemon still routes it.
func (p *Provisioner) compensateCreate(ctx context.Context, op operation, created *model.Profile, activationErr error) error {
	// Compensation must run even when the caller has gone away.
	cctx := context.WithoutCancel(ctx)

	if mayBeLive(activationErr) {
		if err := p.peers.Deactivate(cctx, created.PublicKey); err != nil {
			op.log.Errorf("compensation failed: peer %s may be live, profile %d (%s) kept: %v", created.PublicKey, created.ID, created.Address, err)
			p.audit(ctx, op, "COMPENSATION_FAILED", fmt.Sprintf("profile: %d %s, peer not removed", created.ID, created))
			return p.fail(op, &Error{Kind: KindCompensationFailed, Op: op.name, Err: errors.Join(activationErr, err)})
		}
	}
	// A timed-out append may still land after this point; the prune is
	// queued behind it on the config file.
	if errors.Is(activationErr, wireguard.ErrPersistGap) {
		if _, err := p.peers.Prune(cctx, created.PublicKey); err != nil {
			op.log.Errorf("compensation failed: stanza of peer %s may remain in the config file, profile %d (%s) kept: %v", created.PublicKey, created.ID, created.Address, err)
			p.audit(ctx, op, "COMPENSATION_FAILED", fmt.Sprintf("profile: %d %s, stanza not pruned", created.ID, created))
			return p.fail(op, &Error{Kind: KindCompensationFailed, Op: op.name, Err: errors.Join(activationErr, err)})
		}
	}
	if err := p.store.DeleteProfile(cctx, created.ID); err != nil {
		op.log.Errorf("compensation failed: profile %d (%s) is stored but not active: %v", created.ID, created.Address, err)
		p.audit(ctx, op, "COMPENSATION_FAILED", fmt.Sprintf("profile: %d %s", created.ID, created))
		return p.fail(op, &Error{Kind: KindCompensationFailed, Op: op.name, Err: errors.Join(activationErr, err)})
	}
	op.log.Warnf("activation failed, profile %d removed: %v", created.ID, activationErr)
	return p.fail(op, &Error{Kind: KindPeerActivationFailed, Op: op.name, Err: activationErr})
}

// mayBeLive reports whether a failed activation could have left the peer on
// the live interface: the append failed after `wg set`, or `wg set` timed
// out without a verdict.
func mayBeLive(activationErr error) bool {
	return errors.Is(activationErr, wireguard.ErrPersistGap) || errors.Is(activationErr, context.DeadlineExceeded)
}

// DeleteProfile deactivates the peer and then removes the row. When the
// daemon refuses, the row is kept.
func (p *Provisioner) DeleteProfile(ctx context.Context, profileID int64) error {
	op := p.begin("delete_profile", "profile", profileID)

	prof, err := p.store.GetProfile(ctx, profileID)
	if err != nil {
		return p.fail(op, err)
	}
	if err := p.peers.Deactivate(ctx, prof.PublicKey); err != nil {
		return p.fail(op, err)
	}
	if err := p.store.DeleteProfile(ctx, profileID); err != nil {
		return p.fail(op, err)
	}

	owner, _ := p.store.GetOwner(ctx, prof.OwnerID)
	var ext int64
	if owner != nil {
		ext = owner.ExternalID
	}
	p.audit(ctx, op, "DELETE_PROFILE", fmt.Sprintf("profile: %d %s", prof.ID, prof))
	p.publish(ctx, op, events.Event{
		Type:            events.ProfileDeleted,
		OwnerExternalID: ext,
		ProfileID:       prof.ID,
		ProfileName:     prof.Name,
		Category:        string(prof.Category),
		Address:         prof.Address.String(),
	})
	op.log.Infof("deleted profile %d %s", prof.ID, prof)
	return nil
}

// RenameProfile changes the profile's name. The daemon is not involved.
func (p *Provisioner) RenameProfile(ctx context.Context, profileID int64, newName string) (*model.Profile, error) {
	op := p.begin("rename_profile", "profile", profileID)

	if err := model.ValidateProfileName(newName); err != nil {
		return nil, p.fail(op, err)
	}
	before, _, err := p.eligibleProfile(ctx, op, profileID)
	if err != nil {
		return nil, err
	}
	if before.Name == newName {
		return before, nil
	}
	if err := p.store.RenameProfile(ctx, profileID, newName); err != nil {
		return nil, p.fail(op, err)
	}
	after, owner, err := p.eligibleProfile(ctx, op, profileID)
	if err != nil {
		return nil, err
	}
	p.audit(ctx, op, "RENAME_PROFILE", fmt.Sprintf("profile: %d %q -> %q", profileID, before.Name, newName))
	p.publish(ctx, op, events.Event{
		Type:            events.ProfileRenamed,
		OwnerExternalID: owner.ExternalID,
		ProfileID:       after.ID,
		ProfileName:     after.Name,
		Category:        string(after.Category),
		Address:         after.Address.String(),
	})
	return after, nil
}

// ListProfiles returns the owner's profiles in creation order.
func (p *Provisioner) ListProfiles(ctx context.Context, externalOwnerID int64) ([]model.Profile, error) {
	op := p.begin("list_profiles", "owner", externalOwnerID)
	owner, err := p.ownerFor(ctx, op, externalOwnerID, false)
	if err != nil {
		return nil, err
	}
	list, err := p.store.ListProfiles(ctx, owner.ID)
	if err != nil {
		return nil, p.fail(op, err)
	}
	return list, nil
}

// Profile returns a profile after checking its owner is not rejected.
func (p *Provisioner) Profile(ctx context.Context, profileID int64) (*model.Profile, error) {
	op := p.begin("get_profile", "profile", profileID)
	prof, _, err := p.eligibleProfile(ctx, op, profileID)
	return prof, err
}

// eligibleProfile loads a profile and its owner, refusing rejected owners.
func (p *Provisioner) eligibleProfile(ctx context.Context, op operation, profileID int64) (*model.Profile, *model.Owner, error) {
	prof, err := p.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, nil, p.fail(op, err)
	}
	owner, err := p.store.GetOwner(ctx, prof.OwnerID)
	if err != nil {
		return nil, nil, p.fail(op, err)
	}
	if owner.IsRejected() {
		return nil, nil, p.fail(op, &Error{Kind: KindNotEligible, Op: op.name, Err: fmt.Errorf("owner %d is rejected", owner.ExternalID)})
	}
	return prof, owner, nil
}

// GetConfig returns the rendered client config of a profile.
func (p *Provisioner) GetConfig(ctx context.Context, profileID int64) (string, error) {
	prof, err := p.Profile(ctx, profileID)
	if err != nil {
		return "", err
	}
	return prof.Config, nil
}
