package entity

//orm:entity
//orm:tree nested
type Category struct {
	ID     int64     `orm:"id;generated:auto"`
	Title  string    `orm:"length:64"`
	Slug   string    `orm:"slug:title;length:128;unique"`
	Left   int64     `orm:"column:lft;tree:left"`
	Right  int64     `orm:"column:rgt;tree:right"`
	Level  int64     `orm:"column:lvl;tree:level"`
	Parent *Category `orm:"manyToOne:Category;tree:parent;onDelete:cascade"`
}
