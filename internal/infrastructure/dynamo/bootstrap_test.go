package dynamo

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-registration-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableInput_HashOnlyIndexes(t *testing.T) {
	in := tableInput("registrations")

	assert.Equal(t, "registrations", aws.ToString(in.TableName))
	require.Len(t, in.GlobalSecondaryIndexes, 2)
	want := map[string]string{
		userIDIndex:       domain.FieldUserID,
		contactPlainIndex: domain.FieldContactPlain,
	}
	for _, idx := range in.GlobalSecondaryIndexes {
		require.Len(t, idx.KeySchema, 1, aws.ToString(idx.IndexName))
		assert.Equal(t, want[aws.ToString(idx.IndexName)], aws.ToString(idx.KeySchema[0].AttributeName))
		assert.Equal(t, types.KeyTypeHash, idx.KeySchema[0].KeyType)
		assert.Equal(t, types.ProjectionTypeAll, idx.Projection.ProjectionType)
	}
}
