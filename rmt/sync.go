package rmt

import (
	"go.uber.org/zap"

	"rmt-go/errcode"
)

// SyncManager starts a set of TX channels of one group at the same instant.
// After the aligned start the members run independently until Reset.
type SyncManager struct {
	c       *Controller
	g       *group
	members []*TxChannel
	deleted bool
}

// NewSyncManager binds enabled channels of one group together.
func NewSyncManager(chans []*TxChannel) (*SyncManager, error) {
	const op = "new_sync_manager"
	if len(chans) == 0 || chans[0] == nil {
		return nil, errcode.New(errcode.InvalidArgument, op, "no channels")
	}
	c := chans[0].c
	if !c.v.TxSync {
		return nil, errcode.New(errcode.NotSupported, op, "sync manager not supported")
	}
	g := chans[0].cl.g
	for _, tx := range chans {
		if tx == nil || tx.c != c || tx.cl.g != g {
			return nil, errcode.New(errcode.InvalidArgument, op, "channels must be in the same group")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[*TxChannel]bool, len(chans))
	for _, tx := range chans {
		if !tx.enabled() {
			return nil, errcode.New(errcode.InvalidState, op, "channel not enabled")
		}
		if tx.syncMgr != nil || seen[tx] {
			return nil, errcode.New(errcode.InvalidState, op, "channel already synced")
		}
		seen[tx] = true
	}
	if g.sync != nil {
		return nil, errcode.New(errcode.NotFound, op, "no free sync manager")
	}

	sm := &SyncManager{c: c, g: g, members: append([]*TxChannel(nil), chans...)}
	idx := make([]int, len(chans))
	for i, tx := range chans {
		tx.syncMgr = sm
		idx[i] = tx.cl.id.Index
	}
	g.sync = sm
	c.hw.SetSync(g.id, idx)
	Logger().Debug("sync manager created", zap.Int("group", g.id), zap.Ints("members", idx))
	return sm, nil
}

// Reset re-arms the aligned start for the next round of transmissions.
func (sm *SyncManager) Reset() error {
	sm.c.mu.Lock()
	defer sm.c.mu.Unlock()
	if sm.deleted {
		return errcode.New(errcode.InvalidState, "sync_reset", "sync manager deleted")
	}
	sm.c.hw.ResetSync(sm.g.id)
	return nil
}

// Delete unbinds the members.
func (sm *SyncManager) Delete() error {
	sm.c.mu.Lock()
	defer sm.c.mu.Unlock()
	if sm.deleted {
		return errcode.New(errcode.InvalidState, "delete_sync_manager", "sync manager deleted")
	}
	sm.deleted = true
	sm.c.hw.SetSync(sm.g.id, nil)
	for _, tx := range sm.members {
		tx.syncMgr = nil
	}
	sm.g.sync = nil
	sm.c.dropIfUnusedLocked(sm.g)
	return nil
}

// Members returns the bound channels.
func (sm *SyncManager) Members() []*TxChannel {
	return append([]*TxChannel(nil), sm.members...)
}
