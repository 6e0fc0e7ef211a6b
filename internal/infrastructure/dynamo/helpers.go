package dynamo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-registration-api/internal/domain"
)

// strKey builds a DynamoDB primary key map with a single string attribute.
func strKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}

// updateExpr is a rendered update plus its placeholder maps.
type updateExpr struct {
	Expr      string
	Condition string
	Names     map[string]string
	Values    map[string]types.AttributeValue
}

// buildUpdateExpr converts a map of field->value into a DynamoDB SET expression.
// Keys are sorted so the rendered expression is deterministic.
func buildUpdateExpr(updates map[string]interface{}) (*updateExpr, error) {
	return buildUpdate(domain.Update{Set: updates}, "")
}

// buildUpdate renders SET and ADD clauses and, when pk is non-empty, the
// condition expression for u.Expect (always including attribute_exists(pk)).
func buildUpdate(u domain.Update, pk string) (*updateExpr, error) {
	ue := &updateExpr{
		Names:  make(map[string]string),
		Values: make(map[string]types.AttributeValue),
	}

	var sets []string
	for i, k := range sortedKeys(u.Set) {
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		av, err := attributevalue.Marshal(u.Set[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %s: %w", k, err)
		}
		ue.Names[nameKey] = k
		ue.Values[valueKey] = av
		sets = append(sets, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}

	var adds []string
	for i, k := range sortedKeys(u.AddToSet) {
		if len(u.AddToSet[k]) == 0 {
			continue
		}
		nameKey := fmt.Sprintf("#a%d", i)
		valueKey := fmt.Sprintf(":a%d", i)
		ue.Names[nameKey] = k
		ue.Values[valueKey] = &types.AttributeValueMemberSS{Value: u.AddToSet[k]}
		adds = append(adds, fmt.Sprintf("%s %s", nameKey, valueKey))
	}

	if len(sets) == 0 && len(adds) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	var clauses []string
	if len(sets) > 0 {
		clauses = append(clauses, "SET "+strings.Join(sets, ", "))
	}
	if len(adds) > 0 {
		clauses = append(clauses, "ADD "+strings.Join(adds, ", "))
	}
	ue.Expr = strings.Join(clauses, " ")

	if pk != "" {
		ue.Condition = buildCondition(u.Expect, pk, ue.Names, ue.Values)
	}
	return ue, nil
}

// buildCondition renders c into a condition expression, registering its
// placeholders in names and values.
func buildCondition(c domain.Condition, pk string, names map[string]string, values map[string]types.AttributeValue) string {
	names["#pk"] = pk
	conds := []string{"attribute_exists(#pk)"}
	if c.State != "" {
		names["#cst"] = domain.FieldState
		values[":cst"] = &types.AttributeValueMemberS{Value: string(c.State)}
		conds = append(conds, "#cst = :cst")
	}
	if c.Unregistered || len(c.Unclaimed) > 0 {
		values[":cfalse"] = &types.AttributeValueMemberBOOL{Value: false}
	}
	if c.Unregistered {
		names["#creg"] = domain.FieldIsRegistered
		conds = append(conds, "#creg = :cfalse")
	}
	for i, attr := range c.Absent {
		n := fmt.Sprintf("#cn%d", i)
		names[n] = attr
		conds = append(conds, fmt.Sprintf("attribute_not_exists(%s)", n))
	}
	for i, attr := range c.Unclaimed {
		n := fmt.Sprintf("#cu%d", i)
		names[n] = attr
		conds = append(conds, fmt.Sprintf("(attribute_not_exists(%s) OR %s = :cfalse)", n, n))
	}
	if c.ResendCount != nil {
		names["#crc"] = domain.FieldResendCount
		values[":crc"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*c.ResendCount)}
		if *c.ResendCount == 0 {
			conds = append(conds, "(attribute_not_exists(#crc) OR #crc = :crc)")
		} else {
			conds = append(conds, "#crc = :crc")
		}
	}
	return strings.Join(conds, " AND ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
