package entity

import "time"

// PackageVersion is a released version of a package.
//
//orm:entity table=package_version
//orm:package_version Release
type PackageVersion struct {
	ID      int64     `orm:"id;generated:auto"`
	Name    string    `orm:"length:64"`
	Slug    string    `orm:"slug:name;length:64;unique"`
	Created time.Time `orm:"timestampable:create"`
	Updated time.Time `orm:"timestampable:update"`
}
