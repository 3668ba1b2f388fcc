package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Ban is one banned peer address.
type Ban struct {
	Addr      string    `json:"addr"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// AddOperator grants operator status to a player name. Adding an existing
// operator is a no-op.
func (d *Database) AddOperator(name string) error {
	_, err := d.exec(`INSERT INTO operators (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("add operator %s: %w", name, err)
	}
	return nil
}

// RemoveOperator revokes operator status.
func (d *Database) RemoveOperator(name string) error {
	if _, err := d.exec(`DELETE FROM operators WHERE name = ?`, name); err != nil {
		return fmt.Errorf("remove operator %s: %w", name, err)
	}
	return nil
}

// IsOperator reports whether the player name has operator status.
func (d *Database) IsOperator(name string) (bool, error) {
	var one int
	err := d.db.QueryRow(`SELECT 1 FROM operators WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query operator %s: %w", name, err)
	}
	return true, nil
}

// Operators returns every operator name.
func (d *Database) Operators() ([]string, error) {
	rows, err := d.db.Query(`SELECT name FROM operators ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query operators: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// BanAddr bans a peer address. Re-banning updates the reason.
func (d *Database) BanAddr(addr, reason string) error {
	_, err := d.exec(
		`INSERT INTO bans (addr, reason) VALUES (?, ?)
		 ON CONFLICT(addr) DO UPDATE SET reason = excluded.reason`,
		addr, reason)
	if err != nil {
		return fmt.Errorf("ban %s: %w", addr, err)
	}
	return nil
}

// PardonAddr removes a ban.
func (d *Database) PardonAddr(addr string) error {
	if _, err := d.exec(`DELETE FROM bans WHERE addr = ?`, addr); err != nil {
		return fmt.Errorf("pardon %s: %w", addr, err)
	}
	return nil
}

// IsBanned reports whether a peer address is banned.
func (d *Database) IsBanned(addr string) (bool, error) {
	var one int
	err := d.db.QueryRow(`SELECT 1 FROM bans WHERE addr = ?`, addr).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query ban %s: %w", addr, err)
	}
	return true, nil
}

// Bans returns every active ban.
func (d *Database) Bans() ([]Ban, error) {
	rows, err := d.db.Query(`SELECT addr, reason, created_at FROM bans ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query bans: %w", err)
	}
	defer rows.Close()

	var bans []Ban
	for rows.Next() {
		var b Ban
		if err := rows.Scan(&b.Addr, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}
