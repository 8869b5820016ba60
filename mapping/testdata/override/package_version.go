package other

//orm:entity table=other_version
type PackageVersion struct {
	ID int64 `orm:"id"`
}
