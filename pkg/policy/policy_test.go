package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/fault"
)

func TestAdmission(t *testing.T) {
	a, err := NewAdmission([]Rule{
		{Name: "critical-needs-reputation", Expression: `tier != "CRITICAL" || reputation >= 75`},
		{Name: "no-banned-proposer", Expression: `proposer != "banned"`},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, a.Len())

	assert.NoError(t, a.Admit("alice", contracts.TierInfo, 1, 50))
	assert.NoError(t, a.Admit("alice", contracts.TierCritical, 1, 80))

	err = a.Admit("alice", contracts.TierCritical, 1, 50)
	assert.Equal(t, fault.CodeBlocked, fault.CodeOf(err))

	err = a.Admit("banned", contracts.TierInfo, 1, 99)
	assert.Equal(t, fault.CodeBlocked, fault.CodeOf(err))
}

func TestAdmission_EmptyRuleSetAdmits(t *testing.T) {
	a, err := NewAdmission(nil)
	require.NoError(t, err)
	assert.NoError(t, a.Admit("anyone", contracts.TierCritical, 1, 0))
}

func TestAdmission_CompileErrors(t *testing.T) {
	_, err := NewAdmission([]Rule{{Name: "broken", Expression: `reputation >=`}})
	assert.Error(t, err)

	_, err = NewAdmission([]Rule{{Name: "not-bool", Expression: `reputation + 1`}})
	assert.Error(t, err)

	_, err = NewAdmission([]Rule{{Expression: `true`}})
	assert.Error(t, err, "rules need names for rejection messages")
}

func TestMetadataValidator(t *testing.T) {
	v, err := NewMetadataValidator("")
	require.NoError(t, err)

	assert.NoError(t, v.Validate(`{"name":"worker-7"}`))
	assert.NoError(t, v.Validate(`{"name":"worker-7","capabilities":["vote","execute"]}`))

	err = v.Validate(`{"endpoint":"https://example.com"}`)
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err), "name is required")

	err = v.Validate(`{"name":""}`)
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))

	err = v.Validate(`not json`)
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))
}

func TestMetadataValidator_CustomSchema(t *testing.T) {
	v, err := NewMetadataValidator(`{"type":"object","required":["model"]}`)
	require.NoError(t, err)
	assert.NoError(t, v.Validate(`{"model":"autonomous-v2"}`))
	assert.Error(t, v.Validate(`{"name":"worker"}`))
}

func TestMetadataValidator_BadSchema(t *testing.T) {
	_, err := NewMetadataValidator(`{"type": 42}`)
	assert.Error(t, err)
}
