package eventing

import (
	"strings"
)

// selectQuery assembles SELECT statements whose row cap depends on the
// dialect: either injected after SELECT or appended after ORDER BY.
type selectQuery struct {
	columns []string
	from    string
	joins   []string
	where   []string
	orderBy string
}

func (q selectQuery) build(d Dialect, limit int) string {
	var clause string
	placement := LimitAtEnd
	if limit > 0 {
		clause, placement = d.ResultLimitClause(limit)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if clause != "" && placement == LimitInSelector {
		b.WriteString(clause)
		b.WriteString(" ")
	}
	b.WriteString(strings.Join(q.columns, ", "))
	b.WriteString("\nFROM ")
	b.WriteString(q.from)
	for _, j := range q.joins {
		b.WriteString("\n")
		b.WriteString(j)
	}
	if len(q.where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(q.where, "\n  AND "))
	}
	if q.orderBy != "" {
		b.WriteString("\nORDER BY ")
		b.WriteString(q.orderBy)
	}
	if clause != "" && placement == LimitAtEnd {
		b.WriteString("\n")
		b.WriteString(clause)
	}
	return b.String()
}

// candidateQuery selects consumable events of one subscription.
// Arguments, in order: subscription id, now (delay), now (expiration),
// now (visibility).
func candidateQuery(t tableNames, d Dialect, ordered bool, limit int) string {
	q := selectQuery{
		columns: []string{
			"se.id", "se.delivery_key", "se.functional_key", "se.payload_id",
			"se.priority", "se.publication_date_utc", "se.delivery_count",
		},
		from: t.subscriptionEvent + " se",
		joins: []string{
			"INNER JOIN " + t.subscription + " s ON s.id = se.subscription_id",
		},
		where: []string{
			"se.subscription_id = ?",
			"(se.delivery_delayed_until_utc IS NULL OR se.delivery_delayed_until_utc < ?)",
			"(se.expiration_date_utc IS NULL OR se.expiration_date_utc > ?)",
			"(se.invisible_until_utc IS NULL OR se.invisible_until_utc < ?)",
			"(s.max_deliveries = 0 OR se.delivery_count < s.max_deliveries)",
		},
		orderBy: "se.priority DESC, se.publication_date_utc ASC",
	}

	if ordered {
		q.joins = append(q.joins,
			"LEFT JOIN "+t.lastConsumed+" lc ON lc.subscription_id = se.subscription_id AND lc.functional_key = se.ordering_key")
		q.where = append(q.where,
			"(lc.subscription_id IS NULL OR lc.publication_date_utc < se.publication_date_utc)",
			"NOT EXISTS (SELECT 1 FROM "+t.subscriptionEvent+" prev WHERE prev.subscription_id = se.subscription_id"+
				" AND prev.ordering_key = se.ordering_key AND prev.publication_date_utc < se.publication_date_utc)")
	}

	return q.build(d, limit)
}

// expiredQuery selects unleased events past their expiration date.
// Arguments: now (expiration), now (visibility).
func expiredQuery(t tableNames, d Dialect, limit int) string {
	q := selectQuery{
		columns: []string{"se.id"},
		from:    t.subscriptionEvent + " se",
		where: []string{
			"se.expiration_date_utc IS NOT NULL",
			"se.expiration_date_utc <= ?",
			"(se.invisible_until_utc IS NULL OR se.invisible_until_utc < ?)",
		},
		orderBy: "se.publication_date_utc ASC",
	}
	return q.build(d, limit)
}

// exhaustedQuery selects unleased events that used up their delivery budget.
// Arguments: now (visibility).
func exhaustedQuery(t tableNames, d Dialect, limit int) string {
	q := selectQuery{
		columns: []string{"se.id"},
		from:    t.subscriptionEvent + " se",
		joins: []string{
			"INNER JOIN " + t.subscription + " s ON s.id = se.subscription_id",
		},
		where: []string{
			"s.max_deliveries > 0",
			"se.delivery_count >= s.max_deliveries",
			"(se.invisible_until_utc IS NULL OR se.invisible_until_utc < ?)",
		},
		orderBy: "se.publication_date_utc ASC",
	}
	return q.build(d, limit)
}

// supersededQuery selects unleased events of ordered subscriptions that were
// published no later than the last consumed event of their key. Such events
// can never be selected and would block newer events of the key.
// Arguments: true (ordered), now (visibility).
func supersededQuery(t tableNames, d Dialect, limit int) string {
	q := selectQuery{
		columns: []string{"se.id"},
		from:    t.subscriptionEvent + " se",
		joins: []string{
			"INNER JOIN " + t.subscription + " s ON s.id = se.subscription_id",
			"INNER JOIN " + t.lastConsumed + " lc ON lc.subscription_id = se.subscription_id AND lc.functional_key = se.ordering_key",
		},
		where: []string{
			"s.ordered = ?",
			"se.publication_date_utc <= lc.publication_date_utc",
			"(se.invisible_until_utc IS NULL OR se.invisible_until_utc < ?)",
		},
		orderBy: "se.publication_date_utc ASC",
	}
	return q.build(d, limit)
}
