package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"papertrail/internal/rules"
)

// Rules returns the active rules that apply to a submission: global rules
// plus those bound to it, oldest first. Passing zero returns only global
// rules.
func (r Repo) Rules(ctx context.Context, submissionID int64) ([]rules.Rule, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, active, creator_json, proxy_json, condition_json, consequence_json, created_at
		 FROM rules WHERE active=1 AND (submission_id IS NULL OR submission_id=?) ORDER BY id ASC`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// ListRules returns every rule, inactive ones included.
func (r Repo) ListRules(ctx context.Context) ([]rules.Rule, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, active, creator_json, proxy_json, condition_json, consequence_json, created_at
		 FROM rules ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// GetRule returns one rule by ID.
func (r Repo) GetRule(ctx context.Context, id int64) (rules.Rule, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, active, creator_json, proxy_json, condition_json, consequence_json, created_at
		 FROM rules WHERE id=?`, id)
	rule, err := scanRule(row.Scan)
	if err == sql.ErrNoRows {
		return rules.Rule{}, ErrNotFound
	}
	return rule, err
}

// InsertRule stores a rule and returns it with its assigned ID. A zero
// Created is stamped with the current time.
func (r Repo) InsertRule(ctx context.Context, rule rules.Rule) (rules.Rule, error) {
	if rule.Created.IsZero() {
		rule.Created = time.Now().UTC()
	}
	creator, err := json.Marshal(rule.Creator)
	if err != nil {
		return rules.Rule{}, err
	}
	var proxy any
	if rule.Proxy != nil {
		raw, err := json.Marshal(rule.Proxy)
		if err != nil {
			return rules.Rule{}, err
		}
		proxy = string(raw)
	}
	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return rules.Rule{}, err
	}
	consequence, err := json.Marshal(rule.Consequence)
	if err != nil {
		return rules.Rule{}, err
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO rules(submission_id, active, creator_json, proxy_json, condition_json, consequence_json, created_at)
		 VALUES (?,?,?,?,?,?,?)`,
		nullableInt64(rule.Condition.SubmissionID), boolInt(rule.Active),
		string(creator), proxy, string(condition), string(consequence), timestamp(rule.Created))
	if err != nil {
		return rules.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return rules.Rule{}, err
	}
	rule.ID = id
	return rule, nil
}

// SetRuleActive enables or disables a rule. Disabled rules stay in place so
// past consequences keep their provenance.
func (r Repo) SetRuleActive(ctx context.Context, id int64, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE rules SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func collectRules(rows *sql.Rows) ([]rules.Rule, error) {
	var res []rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

func scanRule(scan func(...any) error) (rules.Rule, error) {
	var rule rules.Rule
	var active int
	var creator, condition, consequence, createdAt string
	var proxy sql.NullString
	if err := scan(&rule.ID, &active, &creator, &proxy, &condition, &consequence, &createdAt); err != nil {
		return rules.Rule{}, err
	}
	rule.Active = active == 1
	if err := json.Unmarshal([]byte(creator), &rule.Creator); err != nil {
		return rules.Rule{}, fmt.Errorf("decode rule %d creator: %w", rule.ID, err)
	}
	if proxy.Valid && proxy.String != "" {
		if err := json.Unmarshal([]byte(proxy.String), &rule.Proxy); err != nil {
			return rules.Rule{}, fmt.Errorf("decode rule %d proxy: %w", rule.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(condition), &rule.Condition); err != nil {
		return rules.Rule{}, fmt.Errorf("decode rule %d condition: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(consequence), &rule.Consequence); err != nil {
		return rules.Rule{}, fmt.Errorf("decode rule %d consequence: %w", rule.ID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rule.Created = t
	}
	return rule, nil
}

func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
