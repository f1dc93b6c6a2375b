package config

import (
	"fmt"
	"net/url"
)

// BuildDSN assembles a go-sql-driver MySQL DSN from the structured fields.
func (d DatabaseConfig) BuildDSN() string {
	loc := d.Loc
	if loc == "" {
		loc = defaultDBLoc
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.Charset, url.QueryEscape(loc))
}
