// memdump runs a small scripted scenario against a fresh arena and prints
// the resulting object stores. It exists to eyeball the model's behavior
// and to exercise the configuration loader.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/specforward/specmem/config"
	"github.com/specforward/specmem/store"
	"github.com/specforward/specmem/value"
)

func main() {
	log.SetFlags(0)
	confPath := flag.String("conf", "", "policy file (TOML)")
	flag.Parse()

	conf := config.Default()
	if *confPath != "" {
		var err error
		conf, err = config.Load(*confPath)
		if err != nil {
			log.Fatalf("memdump: %s", err)
		}
	}

	arena := store.NewArena()
	ctx := store.NewContext(arena, conf)

	// A 16-byte struct {i32, i32 @8} with interior padding, written
	// fieldwise on two diverging paths and merged.
	pair := &value.StructType{
		Fields: []value.Field{
			{Offset: 0, Type: value.IntType{Bytes: 4}},
			{Offset: 8, Type: value.IntType{Bytes: 4}},
		},
		Bytes: 16,
	}
	obj := arena.NewHeapObject(pair)

	store.WriteObject(ctx, obj, 0, 4, value.ConstSet(value.Int{Width: 4, Bits: 7}))

	left := ctx.Local.Retain()
	right := ctx.Local.Retain()

	lctx := &store.Context{Arena: arena, Local: left, Conf: conf}
	store.WriteObject(lctx, obj, 8, 4, value.ConstSet(value.Int{Width: 4, Bits: 1}))

	rctx := &store.Context{Arena: arena, Local: right, Conf: conf}
	store.WriteObject(rctx, obj, 8, 4, value.ConstSet(value.Int{Width: 4, Bits: 2}))

	store.MergeAt(ctx, []*store.LocalStore{lctx.Local, rctx.Local}, store.MergeOpts{})

	fmt.Println(store.DumpObject(ctx, obj))

	got := store.Read(ctx, obj, 8, 4, value.IntType{Bytes: 4})
	fmt.Printf("read [8,12) -> %s\n", got.String())

	ptr := value.Single(value.Pointer, value.Member{V: obj, Offset: 0})
	fmt.Printf("load *%s -> %s\n", obj, store.ResolveLoad(ctx, ptr, 4, value.IntType{Bytes: 4}).String())
}
