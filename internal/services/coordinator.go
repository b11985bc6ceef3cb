package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/photocatalog/internal/catalog"
	"github.com/dmitrijs2005/photocatalog/internal/common"
	"github.com/dmitrijs2005/photocatalog/internal/cryptox"
	"github.com/dmitrijs2005/photocatalog/internal/filex"
	"github.com/dmitrijs2005/photocatalog/internal/identity"
	"github.com/dmitrijs2005/photocatalog/internal/logging"
	"github.com/dmitrijs2005/photocatalog/internal/media"
	"github.com/dmitrijs2005/photocatalog/internal/metrics"
	"github.com/dmitrijs2005/photocatalog/internal/models"
	"github.com/dmitrijs2005/photocatalog/internal/objstore"
)

var (
	ErrCoordinatorClosed = errors.New("coordinator is closed")
	ErrEmptyBatch        = errors.New("batch has no items")
	ErrNotResumable      = errors.New("checkpoint is not resumable")

	errCheckpointWrite = errors.New("checkpoint write failed")
)

// CheckpointStore persists checkpoints and per-item progress.
type CheckpointStore interface {
	Create(ctx context.Context, cp *models.Checkpoint) error
	Get(ctx context.Context, id string) (*models.Checkpoint, error)
	List(ctx context.Context, root string) ([]models.Checkpoint, error)
	SetStatus(ctx context.Context, id string, status models.CheckpointStatus, at time.Time) error
	SetStage(ctx context.Context, id, itemID string, stage models.ItemStage) error
	MarkProcessed(ctx context.Context, id string, p models.ProcessedItem) error
	MarkFailed(ctx context.Context, id, itemID, msg string, at time.Time) (int, error)
}

// Publisher pushes catalog changes once a batch ends.
type Publisher interface {
	Push(ctx context.Context) (bool, error)
	SyncNow(ctx context.Context) (bool, error)
}

// Progress is one event of a batch progress stream.
type Progress struct {
	CurrentItem     int
	TotalItems      int
	CurrentItemName string
	Message         string
	IsComplete      bool
	Err             error
}

// Handle follows a submitted batch.
type Handle struct {
	id       string
	progress chan Progress
	cancel   context.CancelFunc
	done     chan struct{}

	result *models.Checkpoint
	err    error
}

func newHandle(id string, events int, cancel context.CancelFunc) *Handle {
	return &Handle{
		id: id,
		// sized so the worker never blocks on a slow reader
		progress: make(chan Progress, events),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// ID is the checkpoint ID, usable with Resume.
func (h *Handle) ID() string { return h.id }

// Progress streams batch events. The channel is closed after the event with
// IsComplete set.
func (h *Handle) Progress() <-chan Progress { return h.progress }

// Cancel stops the batch after the current step; the checkpoint is left
// paused.
func (h *Handle) Cancel() { h.cancel() }

// Wait blocks until the batch ends and returns the final checkpoint.
func (h *Handle) Wait() (*models.Checkpoint, error) {
	<-h.done
	return h.result, h.err
}

func (h *Handle) emit(p Progress) {
	select {
	case h.progress <- p:
	default:
	}
}

func (h *Handle) finish(cp *models.Checkpoint, err error) {
	h.result, h.err = cp, err
	close(h.progress)
	close(h.done)
	h.cancel()
}

type CoordinatorOptions struct {
	UserID         string
	MaxItemRetries int
	QueueSize      int
}

// Coordinator runs star, unstar and export batches one at a time on a
// single worker goroutine.
type Coordinator struct {
	cat         *catalog.Catalog
	store       objstore.Store
	checkpoints CheckpointStore
	publisher   Publisher
	resolver    media.Resolver
	ids         *identity.Cache
	memo        *cryptox.Memo
	layout      catalog.Layout
	log         logging.Logger
	now         func() time.Time
	retryLimit  int

	mu     sync.Mutex
	closed bool
	queue  chan *batch
	done   chan struct{}
}

type batch struct {
	ctx    context.Context
	cp     *models.Checkpoint
	items  []media.Item
	handle *Handle
}

// NewCoordinator starts the worker. ids, memo and resolver may be nil;
// without a resolver only export checkpoints can be resumed.
func NewCoordinator(opts CoordinatorOptions, cat *catalog.Catalog, store objstore.Store, checkpoints CheckpointStore,
	publisher Publisher, resolver media.Resolver, ids *identity.Cache, memo *cryptox.Memo, log logging.Logger) *Coordinator {

	if log == nil {
		log = logging.Nop()
	}
	if opts.MaxItemRetries <= 0 {
		opts.MaxItemRetries = common.DefaultMaxRetries
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}

	c := &Coordinator{
		cat:         cat,
		store:       store,
		checkpoints: checkpoints,
		publisher:   publisher,
		resolver:    resolver,
		ids:         ids,
		memo:        memo,
		layout:      catalog.Layout{UserID: opts.UserID},
		log:         log.With("component", "coordinator", "user", opts.UserID),
		now:         time.Now,
		retryLimit:  opts.MaxItemRetries,
		queue:       make(chan *batch, opts.QueueSize),
		done:        make(chan struct{}),
	}
	go c.loop()
	return c
}

// Close stops accepting batches and waits for queued ones to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()
	<-c.done
}

// Star backs up items and marks them starred.
func (c *Coordinator) Star(ctx context.Context, items []media.Item) (*Handle, error) {
	return c.submit(ctx, models.ActionStar, "", items)
}

// Unstar clears the starred flag; entries and remote content are kept.
func (c *Coordinator) Unstar(ctx context.Context, items []media.Item) (*Handle, error) {
	return c.submit(ctx, models.ActionUnstar, "", items)
}

// Export downloads the content of hashes into destDir.
func (c *Coordinator) Export(ctx context.Context, hashes []string, destDir string) (*Handle, error) {
	if destDir == "" {
		return nil, errors.New("export: destination directory is required")
	}
	items := make([]media.Item, 0, len(hashes))
	for _, h := range hashes {
		it, err := c.remoteItem(h)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return c.submit(ctx, models.ActionExport, destDir, items)
}

// Resume continues checkpoint id with the items that are neither processed
// nor permanently failed. No new checkpoint is created.
func (c *Coordinator) Resume(ctx context.Context, id string) (*Handle, error) {
	cp, err := c.checkpoints.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cp.IsResumable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotResumable, id, cp.Status)
	}

	original := make([]string, len(cp.Items))
	names := make(map[string]string, len(cp.Items))
	for i, it := range cp.Items {
		original[i] = it.ItemID
		names[it.ItemID] = it.DisplayName
	}

	remainder := cp.Remainder(original, c.retryLimit)
	items := make([]media.Item, 0, len(remainder))
	for _, itemID := range remainder {
		it, err := c.resolve(ctx, itemID)
		if err != nil {
			// counts as an attempt so an item that is gone cannot block the checkpoint forever
			c.log.Warn(ctx, "cannot resolve item for resume", "checkpoint", id, "item", itemID, "error", err)
			if _, ferr := c.checkpoints.MarkFailed(ctx, id, itemID, err.Error(), c.now()); ferr != nil {
				return nil, ferr
			}
			continue
		}
		items = append(items, it)
	}

	if err := c.checkpoints.SetStatus(ctx, id, models.CheckpointInProgress, c.now()); err != nil {
		return nil, err
	}
	cp.Status = models.CheckpointInProgress

	c.log.Info(ctx, "resuming checkpoint", "checkpoint", id, "remaining", len(items), "total", cp.TotalItems)
	return c.enqueue(ctx, cp, items)
}

// Checkpoint loads one checkpoint with its item lists.
func (c *Coordinator) Checkpoint(ctx context.Context, id string) (*models.Checkpoint, error) {
	return c.checkpoints.Get(ctx, id)
}

// Checkpoints lists the checkpoints of this catalog, newest first.
func (c *Coordinator) Checkpoints(ctx context.Context) ([]models.Checkpoint, error) {
	return c.checkpoints.List(ctx, c.cat.Root())
}

func (c *Coordinator) resolve(ctx context.Context, itemID string) (media.Item, error) {
	if hash, ok := media.HashFromRemoteID(itemID); ok {
		return c.remoteItem(hash)
	}
	if c.resolver == nil {
		return nil, fmt.Errorf("no resolver for item %q", itemID)
	}
	return c.resolver.Resolve(ctx, itemID)
}

func (c *Coordinator) remoteItem(hash string) (media.Item, error) {
	e, ok, err := c.cat.Find(hash)
	if err != nil {
		return nil, err
	}
	re := media.RemoteEntry{ContentHash: hash, Size: -1}
	if ok {
		re.Filename, re.Size = e.Filename, e.FileSize
	}
	return media.NewRemoteObject(c.store, c.layout, re), nil
}

func (c *Coordinator) submit(ctx context.Context, action models.Action, target string, items []media.Item) (*Handle, error) {
	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}

	// an item ID may appear only once per checkpoint
	seen := make(map[string]struct{}, len(items))
	unique := items[:0:0]
	for _, it := range items {
		if _, dup := seen[it.ID()]; dup {
			continue
		}
		seen[it.ID()] = struct{}{}
		unique = append(unique, it)
	}

	now := c.now()
	cp := &models.Checkpoint{
		ID:         uuid.NewString(),
		Root:       c.cat.Root(),
		StartDate:  now,
		UpdatedAt:  now,
		Action:     action,
		Status:     models.CheckpointInProgress,
		TotalItems: len(unique),
		Target:     target,
		Items:      make([]models.CheckpointItem, len(unique)),
	}
	for i, it := range unique {
		cp.Items[i] = models.CheckpointItem{
			ItemID:      it.ID(),
			DisplayName: it.DisplayName(),
			Position:    i,
			Stage:       models.StagePending,
		}
	}

	if err := c.checkpoints.Create(ctx, cp); err != nil {
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}
	c.log.Info(ctx, "batch submitted", "checkpoint", cp.ID, "action", action, "items", len(unique))
	return c.enqueue(ctx, cp, unique)
}

func (c *Coordinator) enqueue(ctx context.Context, cp *models.Checkpoint, items []media.Item) (*Handle, error) {
	// the batch outlives the submitting call; only Handle.Cancel stops it
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := newHandle(cp.ID, len(items)+2, cancel)
	b := &batch{ctx: bctx, cp: cp, items: items, handle: h}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		cancel()
		return nil, ErrCoordinatorClosed
	}

	select {
	case c.queue <- b:
		return h, nil
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for b := range c.queue {
		c.runBatch(b)
	}
}

func verbFor(a models.Action) string {
	switch a {
	case models.ActionUnstar:
		return "Unstarring"
	case models.ActionExport:
		return "Exporting"
	default:
		return "Starring"
	}
}

func (c *Coordinator) runBatch(b *batch) {
	ctx := b.ctx
	// checkpoint writes must land even after cancellation
	pctx := context.WithoutCancel(ctx)
	cp := b.cp
	log := c.log.With("checkpoint", cp.ID, "action", cp.Action)

	settled := cp.TotalItems - len(b.items)
	mutated := 0
	var fatal error
	cancelled := false

	for i, it := range b.items {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		b.handle.emit(Progress{
			CurrentItem:     settled + i + 1,
			TotalItems:      cp.TotalItems,
			CurrentItemName: it.DisplayName(),
			Message:         fmt.Sprintf("%s %s", verbFor(cp.Action), it.DisplayName()),
		})

		changed, err := c.processItem(ctx, cp, it)
		if changed {
			mutated++
		}
		if err == nil {
			continue
		}

		if errors.Is(err, errCheckpointWrite) {
			fatal = err
			break
		}
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			// the item stays in flight and is picked up again by resume
			cancelled = true
			break
		}

		metrics.ItemsProcessed.WithLabelValues(string(cp.Action), metrics.OutcomeFailed).Inc()
		retries, ferr := c.checkpoints.MarkFailed(pctx, cp.ID, it.ID(), err.Error(), c.now())
		if ferr != nil {
			fatal = fmt.Errorf("%w: %v", errCheckpointWrite, ferr)
			break
		}
		log.Warn(ctx, "item failed", "item", it.ID(), "retries", retries, "error", err)

		if common.IsBatchFatal(err) {
			fatal = err
			break
		}
	}

	var publishErr error
	if mutated > 0 && !cancelled {
		publishErr = c.publish(pctx)
		if publishErr != nil {
			log.Error(ctx, "publishing batch changes failed", "error", publishErr)
		}
	}

	final, status, err := c.settle(pctx, cp, cancelled, fatal)
	if err != nil {
		log.Error(ctx, "cannot record checkpoint status", "error", err)
		if fatal == nil {
			fatal = err
		}
	}

	resultErr := fatal
	switch {
	case resultErr != nil:
	case cancelled:
		resultErr = common.ErrBatchCancelled
	default:
		resultErr = publishErr
	}

	processed := 0
	if final != nil {
		processed = len(final.Processed)
	}
	b.handle.emit(Progress{
		CurrentItem: processed,
		TotalItems:  cp.TotalItems,
		Message:     fmt.Sprintf("%d of %d items done, checkpoint %s", processed, cp.TotalItems, status),
		IsComplete:  true,
		Err:         resultErr,
	})
	log.Info(ctx, "batch finished", "status", status, "processed", processed, "total", cp.TotalItems)
	b.handle.finish(final, resultErr)
}

// settle stores the final status and reloads the checkpoint. A batch is
// completed only when nothing is left for resume.
func (c *Coordinator) settle(ctx context.Context, cp *models.Checkpoint, cancelled bool, fatal error) (*models.Checkpoint, models.CheckpointStatus, error) {
	status := models.CheckpointCompleted
	switch {
	case cancelled:
		status = models.CheckpointPaused
	case fatal != nil:
		status = models.CheckpointFailed
	default:
		cur, err := c.checkpoints.Get(ctx, cp.ID)
		if err != nil {
			return nil, models.CheckpointFailed, err
		}
		ids := make([]string, len(cur.Items))
		for i, it := range cur.Items {
			ids[i] = it.ItemID
		}
		if len(cur.Remainder(ids, c.retryLimit)) > 0 {
			status = models.CheckpointFailed
		}
	}

	if err := c.checkpoints.SetStatus(ctx, cp.ID, status, c.now()); err != nil {
		return nil, status, err
	}
	final, err := c.checkpoints.Get(ctx, cp.ID)
	return final, status, err
}

func (c *Coordinator) publish(ctx context.Context) error {
	_, err := c.publisher.Push(ctx)
	if errors.Is(err, common.ErrRemoteChanged) {
		c.log.Info(ctx, "remote catalog moved, pulling before publish")
		_, err = c.publisher.SyncNow(ctx)
	}
	return err
}

// step checks for cancellation and records that itemID entered stage.
func (c *Coordinator) step(ctx context.Context, cpID, itemID string, stage models.ItemStage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.checkpoints.SetStage(context.WithoutCancel(ctx), cpID, itemID, stage); err != nil {
		return fmt.Errorf("%w: %v", errCheckpointWrite, err)
	}
	return nil
}

func (c *Coordinator) processed(ctx context.Context, cp *models.Checkpoint, it media.Item, hash string, uploaded bool) error {
	err := c.checkpoints.MarkProcessed(context.WithoutCancel(ctx), cp.ID, models.ProcessedItem{
		ItemID:      it.ID(),
		DisplayName: it.DisplayName(),
		ContentHash: hash,
		ProcessedAt: c.now(),
		Uploaded:    uploaded,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errCheckpointWrite, err)
	}
	return nil
}

// processItem runs one item through the pipeline of the batch action and
// reports whether it changed the catalog.
func (c *Coordinator) processItem(ctx context.Context, cp *models.Checkpoint, it media.Item) (bool, error) {
	switch cp.Action {
	case models.ActionStar:
		return c.starItem(ctx, cp, it)
	case models.ActionUnstar:
		return c.unstarItem(ctx, cp, it)
	case models.ActionExport:
		return false, c.exportItem(ctx, cp, it)
	default:
		return false, fmt.Errorf("unknown action %q", cp.Action)
	}
}

type modTimer interface {
	ModTime() time.Time
}

type hashed struct {
	hash   string
	size   int64
	prefix string
}

// hashItem resolves the content hash of it, cheapest source first: the
// catalog source index, the memo, and finally a full read.
func (c *Coordinator) hashItem(ctx context.Context, it media.Item) (hashed, error) {
	if e, ok := c.cat.FindBySourceID(it.SourceID()); ok {
		return hashed{hash: e.ContentHash, size: e.FileSize}, nil
	}

	var fingerprint string
	if mt, ok := it.(modTimer); ok && c.memo != nil && it.Size() >= 0 {
		fingerprint = cryptox.Fingerprint(it.ID(), it.Size(), mt.ModTime())
		if h, ok := c.memo.Get(fingerprint); ok {
			return hashed{hash: h, size: it.Size()}, nil
		}
	}

	rc, err := it.Open(ctx)
	if err != nil {
		return hashed{}, fmt.Errorf("open %s: %w", it.DisplayName(), err)
	}
	defer rc.Close()

	head := &prefixBuffer{limit: common.DefaultPrefixBytes}
	counted := &countingReader{r: io.TeeReader(rc, head)}
	h, err := cryptox.HashContent(ctx, counted, it.Size())
	if err != nil {
		return hashed{}, err
	}

	size := counted.n
	prefix, err := cryptox.PrefixKey(bytes.NewReader(head.buf.Bytes()), size)
	if err != nil {
		return hashed{}, err
	}
	if fingerprint != "" {
		c.memo.Put(fingerprint, h)
	}
	return hashed{hash: h, size: size, prefix: prefix}, nil
}

func (c *Coordinator) starItem(ctx context.Context, cp *models.Checkpoint, it media.Item) (bool, error) {
	id := it.ID()
	if err := c.step(ctx, cp.ID, id, models.StageHashing); err != nil {
		return false, err
	}
	hv, err := c.hashItem(ctx, it)
	if err != nil {
		return false, err
	}

	if err := c.step(ctx, cp.ID, id, models.StageDedupeChecked); err != nil {
		return false, err
	}
	existing, found, err := c.cat.Find(hv.hash)
	if err != nil {
		return false, err
	}

	if found && existing.BackupStatus == models.BackupUploaded {
		upd := models.PhotoEntry{ContentHash: hv.hash, SourceID: it.SourceID(), IsStarred: true}
		if _, _, err := c.cat.Upsert(ctx, upd); err != nil {
			return false, err
		}
		c.remember(ctx, hv)
		metrics.ItemsProcessed.WithLabelValues(string(cp.Action), metrics.OutcomeDeduped).Inc()
		c.log.Debug(ctx, "content already backed up", "item", id, "hash", hv.hash)
		return true, c.processed(ctx, cp, it, hv.hash, true)
	}

	if err := c.step(ctx, cp.ID, id, models.StageThumbnailing); err != nil {
		return false, err
	}
	thumb, terr := it.Thumbnail(ctx)
	if terr != nil {
		c.log.Debug(ctx, "no thumbnail", "item", id, "error", terr)
		thumb = nil
	}

	if err := c.step(ctx, cp.ID, id, models.StageUploadingContent); err != nil {
		return false, err
	}
	if err := c.uploadContent(ctx, it, hv); err != nil {
		return false, err
	}

	if len(thumb) > 0 {
		if err := c.step(ctx, cp.ID, id, models.StageUploadingThumbnail); err != nil {
			return false, err
		}
		key := c.layout.ThumbnailKey(hv.hash)
		if _, err := c.store.Put(context.WithoutCancel(ctx), key, bytes.NewReader(thumb), int64(len(thumb)), common.ContentTypeJPEG); err != nil {
			if common.IsBatchFatal(err) {
				return false, err
			}
			c.log.Warn(ctx, "thumbnail upload failed", "item", id, "error", err)
		}
	}

	if err := c.step(ctx, cp.ID, id, models.StageCatalogRecorded); err != nil {
		return false, err
	}
	entry := models.PhotoEntry{
		ContentHash:  hv.hash,
		Filename:     it.DisplayName(),
		FileSize:     hv.size,
		SourceID:     it.SourceID(),
		IsStarred:    true,
		BackupStatus: models.BackupUploaded,
	}
	if mt, ok := it.(modTimer); ok {
		entry.ModifiedDate = mt.ModTime()
		entry.PhotoDate = mt.ModTime()
	}
	if _, _, err := c.cat.Upsert(ctx, entry); err != nil {
		return false, err
	}
	c.remember(ctx, hv)

	metrics.ItemsProcessed.WithLabelValues(string(cp.Action), metrics.OutcomeUploaded).Inc()
	return true, c.processed(ctx, cp, it, hv.hash, true)
}

// uploadContent stores the item bytes under their hash unless some device
// already did.
func (c *Coordinator) uploadContent(ctx context.Context, it media.Item, hv hashed) error {
	xfer := context.WithoutCancel(ctx)
	key := c.layout.PhotoKey(hv.hash)

	_, err := c.store.Head(xfer, key)
	if err == nil {
		c.log.Debug(ctx, "content already in object store", "hash", hv.hash)
		return nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("check content %s: %w", hv.hash, err)
	}

	rc, err := it.Open(xfer)
	if err != nil {
		return fmt.Errorf("open %s: %w", it.DisplayName(), err)
	}
	defer rc.Close()

	if _, err := c.store.Put(xfer, key, rc, hv.size, common.ContentTypeBinary); err != nil {
		return fmt.Errorf("upload content %s: %w", hv.hash, err)
	}
	metrics.ContentBytesUploaded.Add(float64(hv.size))
	return nil
}

func (c *Coordinator) remember(ctx context.Context, hv hashed) {
	if c.ids == nil {
		return
	}
	if err := c.ids.Add(hv.hash, hv.prefix); err != nil {
		c.log.Warn(ctx, "identity cache update failed", "hash", hv.hash, "error", err)
	}
}

func (c *Coordinator) unstarItem(ctx context.Context, cp *models.Checkpoint, it media.Item) (bool, error) {
	id := it.ID()
	if err := c.step(ctx, cp.ID, id, models.StageHashing); err != nil {
		return false, err
	}
	hv, err := c.hashItem(ctx, it)
	if err != nil {
		return false, err
	}

	if err := c.step(ctx, cp.ID, id, models.StageDedupeChecked); err != nil {
		return false, err
	}
	existing, found, err := c.cat.Find(hv.hash)
	if err != nil {
		return false, err
	}
	uploaded := found && existing.BackupStatus == models.BackupUploaded
	if !found || !existing.IsStarred {
		return false, c.processed(ctx, cp, it, hv.hash, uploaded)
	}

	if err := c.step(ctx, cp.ID, id, models.StageCatalogRecorded); err != nil {
		return false, err
	}
	if _, _, err := c.cat.Upsert(ctx, models.PhotoEntry{ContentHash: hv.hash, IsStarred: false}); err != nil {
		return false, err
	}
	if c.ids != nil {
		if err := c.ids.Remove(hv.hash); err != nil {
			c.log.Warn(ctx, "identity cache update failed", "hash", hv.hash, "error", err)
		}
	}
	return true, c.processed(ctx, cp, it, hv.hash, uploaded)
}

// exportName is the file name an exported photo gets in the destination.
func exportName(hash, filename string) string {
	if filename == "" {
		return hash + ".dat"
	}
	return hash[:8] + "_" + filepath.Base(filename)
}

func (c *Coordinator) exportItem(ctx context.Context, cp *models.Checkpoint, it media.Item) error {
	id := it.ID()
	hash, ok := media.HashFromRemoteID(id)
	if !ok {
		return fmt.Errorf("export needs a remote item, got %q", id)
	}
	if err := catalog.ValidateContentHash(hash); err != nil {
		return err
	}

	if err := c.step(ctx, cp.ID, id, models.StageDownloading); err != nil {
		return err
	}

	name := it.DisplayName()
	if name == hash {
		name = ""
	}
	dst := filepath.Join(cp.Target, exportName(hash, name))

	rc, err := it.Open(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("download %s: %w", hash, err)
	}
	_, err = filex.WriteFileAtomic(dst, rc)
	rc.Close()
	if err != nil {
		return err
	}

	if err := verifyFile(ctx, dst, hash); err != nil {
		os.Remove(dst)
		return err
	}
	return c.processed(ctx, cp, it, hash, true)
}

func verifyFile(ctx context.Context, path, hash string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	got, err := cryptox.HashContent(context.WithoutCancel(ctx), f, -1)
	if err != nil {
		return err
	}
	if got != hash {
		return fmt.Errorf("%w: exported %s hashes to %s", common.ErrIntegrity, hash, got)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// prefixBuffer keeps the first limit bytes written to it.
type prefixBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (p *prefixBuffer) Write(b []byte) (int, error) {
	if room := p.limit - p.buf.Len(); room > 0 {
		if len(b) > room {
			p.buf.Write(b[:room])
		} else {
			p.buf.Write(b)
		}
	}
	return len(b), nil
}
