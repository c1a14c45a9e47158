// Package testmodel declares the entity types shared by package tests.
package testmodel

import (
	"reflect"

	"github.com/google/uuid"

	"github.com/syssam/veloxrt/metadata"
)

type (
	// Duck has a store-generated identity and a computed concurrency token.
	Duck struct {
		ID     int
		Name   string
		Quacks int
		Token  []byte
	}

	// Blog is the principal of Post.
	Blog struct {
		ID    int
		Title string
		Posts []*Post
	}

	// Post depends on Blog through BlogID.
	Post struct {
		ID     int
		BlogID int `db:"blog_id"`
		Title  string
		Blog   *Blog
	}

	// Customer is split across customers and customer_details.
	Customer struct {
		ID   int
		Name string
		Bio  string
	}

	// Tag has a client-generated UUID key.
	Tag struct {
		ID    uuid.UUID
		Label string
	}

	// Alpha is mapped to table A with a client-supplied key.
	Alpha struct{ ID int }

	// Beta is mapped to table B with a client-supplied key.
	Beta struct{ ID int }

	// Node references itself through ParentID.
	Node struct {
		ID       int
		ParentID int `db:"parent_id"`
		Parent   *Node
	}
)

// Model builds the shared test model.
func Model() *metadata.Model {
	b := metadata.NewBuilder()
	metadata.Entity[Duck](b).
		Property("ID", metadata.Generated(metadata.OnAdd)).
		Property("Token", metadata.Computed(), metadata.ConcurrencyToken())
	metadata.Entity[Blog](b)
	metadata.Entity[Post](b).
		Shadow("Rating", reflect.TypeFor[int]())
	metadata.Entity[Customer](b).
		Property("Bio", metadata.InTable("customer_details"))
	metadata.Entity[Tag](b)
	metadata.Entity[Alpha](b).Table("A").Property("ID", metadata.Generated(metadata.Never))
	metadata.Entity[Beta](b).Table("B").Property("ID", metadata.Generated(metadata.Never))
	metadata.Entity[Node](b).Property("ID", metadata.Generated(metadata.Never))
	b.Relate(metadata.Relation{
		Dependent:  "Post",
		Principal:  "Blog",
		ForeignKey: []string{"BlogID"},
		Navigation: "Blog",
		Inverse:    "Posts",
		Required:   true,
	})
	b.Relate(metadata.Relation{
		Dependent:  "Node",
		Principal:  "Node",
		ForeignKey: []string{"ParentID"},
		Navigation: "Parent",
	})
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}
