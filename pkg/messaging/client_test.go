package messaging

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

func TestEncodeJob_RejectsInvalidJob(t *testing.T) {
	_, err := EncodeJob(models.Job{Kind: models.JobKindExtraction, UserID: "user-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw prompt id")

	_, err = EncodeJob(models.Job{Kind: "reindex", UserID: "user-1"})
	assert.Error(t, err)
}

func TestDecodeJob(t *testing.T) {
	id := uuid.New()
	body, err := EncodeJob(models.Job{Kind: models.JobKindExtraction, UserID: "user-1", RawPromptID: &id})
	require.NoError(t, err)

	job, err := DecodeJob(body)
	require.NoError(t, err)
	assert.Equal(t, models.JobKindExtraction, job.Kind)
	require.NotNil(t, job.RawPromptID)
	assert.Equal(t, id, *job.RawPromptID)
}

func TestDecodeJob_Malformed(t *testing.T) {
	_, err := DecodeJob([]byte("{not json"))
	assert.Error(t, err)

	_, err = DecodeJob([]byte(`{"kind":"categorization"}`))
	assert.ErrorContains(t, err, "missing user id")
}
