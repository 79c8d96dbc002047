package emulator

import (
	"evsim/ocpp/localauth"
	"evsim/types"
	"testing"

	"github.com/stretchr/testify/assert"
)

func authorization(idTag string, status types.AuthorizationStatus) localauth.AuthorizationData {
	return localauth.AuthorizationData{IdTag: idTag, IdTagInfo: &types.IdTagInfo{Status: status}}
}

func sendLocalList(version int, updateType localauth.UpdateType, list ...localauth.AuthorizationData) *localauth.SendLocalListRequest {
	return &localauth.SendLocalListRequest{ListVersion: &version, UpdateType: updateType, LocalAuthorizationList: list}
}

func TestLocalListFullAndDifferential(t *testing.T) {
	l := newLocalList()

	status := l.Apply(sendLocalList(1, localauth.UpdateTypeFull,
		authorization("A", types.AuthorizationStatusAccepted),
		authorization("B", types.AuthorizationStatusBlocked)), 10)
	assert.Equal(t, localauth.UpdateStatusAccepted, status)
	assert.Equal(t, 1, l.Version())
	info, ok := l.Lookup("B")
	assert.True(t, ok)
	assert.Equal(t, types.AuthorizationStatusBlocked, info.Status)

	status = l.Apply(sendLocalList(2, localauth.UpdateTypeDifferential,
		localauth.AuthorizationData{IdTag: "B"},
		authorization("C", types.AuthorizationStatusAccepted)), 10)
	assert.Equal(t, localauth.UpdateStatusAccepted, status)
	_, ok = l.Lookup("B")
	assert.False(t, ok)
	_, ok = l.Lookup("A")
	assert.True(t, ok)
	_, ok = l.Lookup("C")
	assert.True(t, ok)

	status = l.Apply(sendLocalList(2, localauth.UpdateTypeDifferential, authorization("D", types.AuthorizationStatusAccepted)), 10)
	assert.Equal(t, localauth.UpdateStatusVersionMismatch, status)
	_, ok = l.Lookup("D")
	assert.False(t, ok)

	status = l.Apply(sendLocalList(3, localauth.UpdateTypeFull), 10)
	assert.Equal(t, localauth.UpdateStatusAccepted, status)
	_, ok = l.Lookup("A")
	assert.False(t, ok)
}

func TestLocalListMaxLength(t *testing.T) {
	l := newLocalList()
	status := l.Apply(sendLocalList(1, localauth.UpdateTypeFull,
		authorization("A", types.AuthorizationStatusAccepted),
		authorization("B", types.AuthorizationStatusAccepted)), 1)
	assert.Equal(t, localauth.UpdateStatusFailed, status)
	assert.Equal(t, 0, l.Version())
}
