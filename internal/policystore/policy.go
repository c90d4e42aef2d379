package policystore

import (
	"fmt"
	"strings"
)

// PolicyListKind selects which policy table a lookup targets.
type PolicyListKind int

const (
	PolicyAllow PolicyListKind = iota
	PolicyDeny
)

func (k PolicyListKind) tableName() string {
	if k == PolicyAllow {
		return "policy_allow"
	}
	return "policy_deny"
}

// Suffixes splits a trailing-dot QNAME into itself (minus the trailing dot)
// followed by every parent-domain suffix: "a.b.example.com." ->
// ["a.b.example.com", "b.example.com", "example.com", "com"].
func Suffixes(qname string) []string {
	trimmed := strings.TrimSuffix(qname, ".")
	if trimmed == "" {
		return nil
	}
	labels := strings.Split(trimmed, ".")
	suffixes := make([]string, len(labels))
	for i := range labels {
		suffixes[i] = strings.Join(labels[i:], ".")
	}
	return suffixes
}

// CheckPolicyList reports whether ne has a policy of kind covering qname or
// any of its parent-domain suffixes, matched by network object or by owner
// (§6.1, §4.5). Unlike the original implementation this builds the query
// with placeholders rather than splicing the QNAME into the SQL text.
func (s *Store) CheckPolicyList(kind PolicyListKind, ne NetworkEntry, qname string) (bool, error) {
	suffixes := Suffixes(qname)
	if len(suffixes) == 0 {
		return false, nil
	}

	placeholders := make([]string, len(suffixes))
	args := make([]any, 0, len(suffixes)+2)
	args = append(args, ne.ObjectID, ne.OwnerID)
	for i, suffix := range suffixes {
		placeholders[i] = "?"
		args = append(args, suffix)
	}

	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM policy_definition pd, policy_assignment pa, %s pl
		 WHERE pl.policy = pd.object_id AND pa.policy = pd.object_id
		   AND ((pa.class = 'network' AND pa.target = ?) OR (pa.class = 'user' AND pa.target = ?))
		   AND pl.domain IN (%s)`,
		kind.tableName(), strings.Join(placeholders, ","),
	)

	s.logQuery(query)

	var count int64
	if err := s.conn.QueryRow(query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count >= 1, nil
}
