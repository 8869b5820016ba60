package entity

import "time"

// PackageVersion is a released version of a package.
//
//orm:entity table=package_version
type PackageVersion struct {
	ID      int64     `orm:"id;generated:auto"`
	Name    string    `orm:"length:64"`
	Version string    `orm:"length:32;unique"`
	Notes   *string   `orm:"type:text"`
	Created time.Time `orm:"timestampable:create"`
	Updated time.Time `orm:"timestampable:update"`
	cache   string
}

// Helper is not mapped.
type Helper struct {
	Name string `orm:"length:10"`
}
