// Package ormresource bootstraps the entity manager of an application
// module.
//
// A Resource combines a normalized configuration (package config), the
// root path of the application and a module name. It resolves the
// entity and proxy folders, registers the timestampable, sluggable and
// tree listeners selected by its options, optionally profiles SQL, and
// creates an entity manager on the configured connection. The bib
// platform option runs MySQL without foreign key constraints.
//
//	cfg, err := config.LoadFile("configs/doctrine.ini", "production")
//	if err != nil {
//		return err
//	}
//	res, err := ormresource.New(cfg, "/srv/bib", "default", map[string]any{
//		"timestampable": true,
//		"bibplatform":   true,
//	})
//	if err != nil {
//		return err
//	}
//	defer res.Close()
//	em, err := res.EntityManager(ctx)
package ormresource
