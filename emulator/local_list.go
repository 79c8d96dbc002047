package emulator

import (
	"evsim/ocpp/localauth"
	"evsim/types"
)

// localList is the authorization list pushed by the central system.
type localList struct {
	version int
	entries map[string]types.IdTagInfo
}

func newLocalList() *localList {
	return &localList{entries: make(map[string]types.IdTagInfo)}
}

func (l *localList) Apply(request *localauth.SendLocalListRequest, maxLength int) localauth.UpdateStatus {
	version := *request.ListVersion
	if maxLength > 0 && len(request.LocalAuthorizationList) > maxLength {
		return localauth.UpdateStatusFailed
	}

	entries := l.entries
	if request.UpdateType == localauth.UpdateTypeFull {
		entries = make(map[string]types.IdTagInfo, len(request.LocalAuthorizationList))
	} else {
		if version <= l.version {
			return localauth.UpdateStatusVersionMismatch
		}
		entries = make(map[string]types.IdTagInfo, len(l.entries))
		for tag, info := range l.entries {
			entries[tag] = info
		}
	}

	for _, data := range request.LocalAuthorizationList {
		if data.IdTagInfo == nil {
			delete(entries, data.IdTag)
			continue
		}
		entries[data.IdTag] = *data.IdTagInfo
	}
	if maxLength > 0 && len(entries) > maxLength {
		return localauth.UpdateStatusFailed
	}

	l.entries = entries
	l.version = version
	return localauth.UpdateStatusAccepted
}

func (l *localList) Version() int {
	return l.version
}

func (l *localList) Lookup(idTag string) (types.IdTagInfo, bool) {
	info, ok := l.entries[idTag]
	return info, ok
}
