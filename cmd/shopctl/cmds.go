package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/aggregate"
	"github.com/getpup/pupcart/es/projection"
	"github.com/getpup/pupcart/es/projection/runner"
	"github.com/getpup/pupcart/internal/shop/commands"
	"github.com/getpup/pupcart/internal/shop/product"
	"github.com/getpup/pupcart/internal/shop/readmodel"
)

func (a *app) dispatch(ctx context.Context, args []string) error {
	switch args[0] {
	case "product":
		return a.product(ctx, args[1:])
	case "cart":
		return a.cart(ctx, args[1:])
	case "history":
		return a.history(ctx, args[1:])
	case "rebuild":
		return a.rebuild(ctx, args[1:])
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %w", errUsage, fs.Name(), err)
	}
	return nil
}

// streamID converts a UUID flag value into a stream id.
func streamID(name, value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%w: -%s is required", errUsage, name)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return "", fmt.Errorf("%w: -%s must be a UUID: %w", errUsage, name, err)
	}
	return es.StreamIDFromUUID(id), nil
}

// newID parses an optional UUID flag, generating one when empty.
func newID(value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: -id must be a UUID: %w", errUsage, err)
	}
	return id, nil
}

func displayID(streamID string) string {
	id, err := es.UUIDFromStreamID(streamID)
	if err != nil {
		return streamID
	}
	return id.String()
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) product(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: product needs a subcommand: create, update, delete, get, list", errUsage)
	}
	fs := newFlags("product " + args[0])
	var (
		id           = fs.String("id", "", "Product UUID")
		actor        = fs.String("actor", "", "Actor id recorded on events")
		name         = fs.String("name", "", "Display name")
		price        = fs.Int64("price", -1, "Price in minor units")
		description  = fs.String("description", "", "Description")
		clearDesc    = fs.Bool("clear-description", false, "Remove the description")
		picture      = fs.String("picture", "", "Picture URL")
		clearPicture = fs.Bool("clear-picture", false, "Remove the picture")
	)
	if err := parse(fs, args[1:]); err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	switch args[0] {
	case "create":
		uid, err := newID(*id)
		if err != nil {
			return err
		}
		if !set["price"] {
			return fmt.Errorf("%w: -price is required", errUsage)
		}
		sid, err := a.service.CreateProduct(ctx, uid, *name, product.Money(*price), *actor)
		if err != nil {
			return err
		}
		return a.print(map[string]any{"id": displayID(sid), "version": 1})

	case "update":
		sid, err := streamID("id", *id)
		if err != nil {
			return err
		}
		var patch commands.ProductPatch
		if set["name"] {
			patch.DisplayName = aggregate.SetTo(*name)
		}
		if set["price"] {
			patch.Price = aggregate.SetTo(product.Money(*price))
		}
		switch {
		case *clearDesc:
			patch.Description = aggregate.Cleared[string]()
		case set["description"]:
			patch.Description = aggregate.SetTo(*description)
		}
		switch {
		case *clearPicture:
			patch.PictureURL = aggregate.Cleared[string]()
		case set["picture"]:
			patch.PictureURL = aggregate.SetTo(*picture)
		}
		version, err := a.service.UpdateProduct(ctx, sid, patch, *actor)
		if err != nil {
			return err
		}
		return a.print(map[string]any{"id": *id, "version": version})

	case "delete":
		sid, err := streamID("id", *id)
		if err != nil {
			return err
		}
		version, err := a.service.DeleteProduct(ctx, sid, *actor)
		if err != nil {
			return err
		}
		return a.print(map[string]any{"id": *id, "version": version})

	case "get":
		sid, err := streamID("id", *id)
		if err != nil {
			return err
		}
		view, ok, err := a.views.GetProduct(ctx, sid)
		if err != nil {
			return err
		}
		if !ok || view.Deleted {
			return fmt.Errorf("%w: product %s", commands.ErrNotFound, *id)
		}
		return a.print(productJSON(&view))

	case "list":
		views, err := a.views.ListProducts(ctx)
		if err != nil {
			return err
		}
		out := make([]productOut, len(views))
		for i := range views {
			out[i] = productJSON(&views[i])
		}
		return a.print(out)

	default:
		return fmt.Errorf("%w: unknown product subcommand %q", errUsage, args[0])
	}
}

func (a *app) cart(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: cart needs a subcommand: open, add, remove, set, clear, delete, get", errUsage)
	}
	fs := newFlags("cart " + args[0])
	var (
		id        = fs.String("id", "", "Cart UUID")
		actor     = fs.String("actor", "", "Actor id recorded on events")
		owner     = fs.String("owner", "", "Owner id")
		productID = fs.String("product", "", "Product UUID")
		qty       = fs.Int("qty", 0, "Quantity")
	)
	if err := parse(fs, args[1:]); err != nil {
		return err
	}

	if args[0] == "open" {
		uid, err := newID(*id)
		if err != nil {
			return err
		}
		sid, err := a.service.OpenCart(ctx, uid, *owner, *actor)
		if err != nil {
			return err
		}
		return a.print(map[string]any{"id": displayID(sid), "version": 1})
	}

	sid, err := streamID("id", *id)
	if err != nil {
		return err
	}

	var version int64
	switch args[0] {
	case "add", "remove", "set":
		pid, err := streamID("product", *productID)
		if err != nil {
			return err
		}
		switch args[0] {
		case "add":
			version, err = a.service.AddItem(ctx, sid, pid, *qty, *actor)
		case "remove":
			version, err = a.service.RemoveItem(ctx, sid, pid, *qty, *actor)
		default:
			version, err = a.service.SetItem(ctx, sid, pid, *qty, *actor)
		}
		if err != nil {
			return err
		}
	case "clear":
		if version, err = a.service.ClearCart(ctx, sid, *actor); err != nil {
			return err
		}
	case "delete":
		if version, err = a.service.DeleteCart(ctx, sid, *actor); err != nil {
			return err
		}
	case "get":
		view, ok, err := a.views.GetCart(ctx, sid)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: cart %s", commands.ErrNotFound, *id)
		}
		return a.print(cartJSON(&view))
	default:
		return fmt.Errorf("%w: unknown cart subcommand %q", errUsage, args[0])
	}
	return a.print(map[string]any{"id": *id, "version": version})
}

// history prints an aggregate as it was at -version, or at its head.
func (a *app) history(ctx context.Context, args []string) error {
	fs := newFlags("history")
	var (
		kind    = fs.String("type", "", "Aggregate type: product or cart")
		id      = fs.String("id", "", "Aggregate UUID")
		version = fs.Int64("version", 0, "Version to load (default: latest)")
	)
	if err := parse(fs, args); err != nil {
		return err
	}
	sid, err := streamID("id", *id)
	if err != nil {
		return err
	}

	switch *kind {
	case "product":
		p, ok, err := loadAt(ctx, a.products.Load, a.products.LoadVersion, sid, *version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: product %s", commands.ErrNotFound, *id)
		}
		out := map[string]any{
			"id":          *id,
			"version":     p.Version(),
			"deleted":     p.IsDeleted(),
			"displayName": p.DisplayName(),
			"price":       p.Price().String(),
		}
		if v, ok := p.Description(); ok {
			out["description"] = v
		}
		if v, ok := p.PictureURL(); ok {
			out["pictureUrl"] = v
		}
		return a.print(out)

	case "cart":
		c, ok, err := loadAt(ctx, a.carts.Load, a.carts.LoadVersion, sid, *version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: cart %s", commands.ErrNotFound, *id)
		}
		lines := make([]lineOut, 0)
		for _, l := range c.Items() {
			lines = append(lines, lineOut{ProductID: displayID(l.ProductID), Quantity: l.Quantity})
		}
		return a.print(map[string]any{
			"id":      *id,
			"version": c.Version(),
			"deleted": c.IsDeleted(),
			"ownerId": c.OwnerID(),
			"lines":   lines,
		})

	default:
		return fmt.Errorf("%w: -type must be product or cart", errUsage)
	}
}

func loadAt[A any](
	ctx context.Context,
	load func(context.Context, string) (A, bool, error),
	loadVersion func(context.Context, string, int64) (A, bool, error),
	streamID string,
	version int64,
) (A, bool, error) {
	if version > 0 {
		return loadVersion(ctx, streamID, version)
	}
	return load(ctx, streamID)
}

// rebuild catches the read model up with the global log from its checkpoint.
func (a *app) rebuild(ctx context.Context, args []string) error {
	fs := newFlags("rebuild")
	var (
		follow     = fs.Bool("follow", false, "Keep polling for new events until interrupted")
		reset      = fs.Bool("reset", false, "Replay from the start of the log")
		batch      = fs.Int("batch", 100, "Events per batch")
		poll       = fs.Duration("poll", 500*time.Millisecond, "Poll interval with -follow")
		partitions = fs.Int("partitions", 1, "Partitions to run with -follow")
	)
	if err := parse(fs, args); err != nil {
		return err
	}
	if a.backend.reader == nil || a.backend.checkpoints == nil {
		return fmt.Errorf("backend %s has no global log to rebuild from", a.config.Backend)
	}

	base := projection.DefaultProcessorConfig()
	base.Logger = a.logger
	base.BatchSize = *batch
	base.PollInterval = *poll

	if *follow {
		runners, err := runner.Partitioned(a.backend.reader, a.backend.checkpoints, a.projector, base, *partitions)
		if err != nil {
			return err
		}
		if *reset {
			for _, r := range runners {
				if p, ok := r.Processor.(*projection.Processor); ok {
					if err := a.resetCheckpoint(ctx, p); err != nil {
						return err
					}
				}
			}
		}
		err = runner.New(runner.WithLogger(a.logger)).Run(ctx, runners)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	processor := projection.NewProcessor(a.backend.reader, a.backend.checkpoints, base)
	if *reset {
		if err := a.resetCheckpoint(ctx, processor); err != nil {
			return err
		}
	}
	handled, err := processor.RunOnce(ctx, a.projector)
	if err != nil {
		return err
	}
	position, err := a.backend.checkpoints.GetCheckpoint(ctx, processor.CheckpointName(a.projector))
	if err != nil {
		return err
	}
	return a.print(map[string]any{"handled": handled, "checkpoint": position})
}

func (a *app) resetCheckpoint(ctx context.Context, p *projection.Processor) error {
	return a.backend.checkpoints.UpdateCheckpoint(ctx, p.CheckpointName(a.projector), 0)
}

type productOut struct {
	UpdatedOn   time.Time `json:"updatedOn"`
	CreatedOn   time.Time `json:"createdOn"`
	Description *string   `json:"description,omitempty"`
	PictureURL  *string   `json:"pictureUrl,omitempty"`
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Price       string    `json:"price"`
	CreatedBy   string    `json:"createdBy"`
	UpdatedBy   string    `json:"updatedBy"`
	Version     int64     `json:"version"`
}

func productJSON(v *readmodel.ProductView) productOut {
	return productOut{
		ID:          displayID(v.ID),
		DisplayName: v.DisplayName,
		Description: v.Description,
		Price:       v.Price.String(),
		PictureURL:  v.PictureURL,
		Version:     v.Version,
		CreatedBy:   v.CreatedBy,
		CreatedOn:   v.CreatedOn,
		UpdatedBy:   v.UpdatedBy,
		UpdatedOn:   v.UpdatedOn,
	}
}

type lineOut struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type cartOut struct {
	UpdatedOn time.Time `json:"updatedOn"`
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Lines     []lineOut `json:"lines"`
	Version   int64     `json:"version"`
}

func cartJSON(v *readmodel.CartView) cartOut {
	out := cartOut{
		ID:        displayID(v.ID),
		OwnerID:   v.OwnerID,
		Lines:     make([]lineOut, 0, len(v.Lines)),
		Version:   v.Version,
		UpdatedOn: v.UpdatedOn,
	}
	for _, l := range v.Lines {
		out.Lines = append(out.Lines, lineOut{ProductID: displayID(l.ProductID), Quantity: l.Quantity})
	}
	return out
}
