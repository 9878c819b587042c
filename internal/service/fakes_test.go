package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/models"
	"github.com/digkill/AssistantHub/internal/n8n"
	"github.com/digkill/AssistantHub/internal/repository"
)

// memDB backs every in-memory store used by the service tests. Each store is a
// thin view over it so ledger writes are visible to account reads.
type memDB struct {
	mu          sync.Mutex
	seq         int64
	accounts    map[string]*models.Account
	txs         []models.CreditTransaction
	events      []models.WebhookEvent
	coupons     map[string]*models.Coupon
	redemptions map[string]bool
	usage       []models.UsageLog
	projects    map[int64]*models.Project
	threads     map[string]*models.ChatThread
	messages    []models.Message
	images      []models.GeneratedImage
}

func newMemDB() *memDB {
	return &memDB{
		accounts:    map[string]*models.Account{},
		coupons:     map[string]*models.Coupon{},
		redemptions: map[string]bool{},
		projects:    map[int64]*models.Project{},
		threads:     map[string]*models.ChatThread{},
	}
}

func (db *memDB) nextID() int64 {
	db.seq++
	return db.seq
}

func (db *memDB) addAccount(email string, tier models.Tier, credits string) *models.Account {
	db.mu.Lock()
	defer db.mu.Unlock()
	a := &models.Account{
		ID:         fmt.Sprintf("acc-%d", db.nextID()),
		AuthUserID: "auth-" + email,
		Email:      email,
		Tier:       tier,
		Credits:    decimal.RequireFromString(credits),
	}
	db.accounts[a.ID] = a
	cp := *a
	return &cp
}

func (db *memDB) account(id string) *models.Account {
	db.mu.Lock()
	defer db.mu.Unlock()
	a, ok := db.accounts[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

func (db *memDB) transactions(accountID string) []models.CreditTransaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.CreditTransaction
	for _, tx := range db.txs {
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	return out
}

func (db *memDB) addProject(p models.Project) *models.Project {
	db.mu.Lock()
	defer db.mu.Unlock()
	p.ID = db.nextID()
	db.projects[p.ID] = &p
	cp := p
	return &cp
}

func (db *memDB) addCoupon(c models.Coupon) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c.ID = db.nextID()
	db.coupons[c.Code] = &c
}

func (db *memDB) coupon(code string) models.Coupon {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.coupons[code]
}

type fakeAccounts struct{ *memDB }

func (f fakeAccounts) FindByID(_ context.Context, id string) (*models.Account, error) {
	return f.account(id), nil
}

func (f fakeAccounts) FindByAuthUserID(_ context.Context, authUserID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.AuthUserID == authUserID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f fakeAccounts) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f fakeAccounts) Create(_ context.Context, account *models.Account) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == account.Email {
			return nil, fmt.Errorf("duplicate email %s", account.Email)
		}
	}
	a := *account
	a.ID = fmt.Sprintf("acc-%d", f.nextID())
	f.accounts[a.ID] = &a
	cp := a
	return &cp, nil
}

func (f fakeAccounts) LinkAuthUser(_ context.Context, accountID, authUserID, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[accountID]; ok && a.AuthUserID == "" {
		a.AuthUserID = authUserID
		a.DisplayName = displayName
	}
	return nil
}

func (f fakeAccounts) SetTier(_ context.Context, accountID string, tier models.Tier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[accountID]; ok {
		a.Tier = tier
	}
	return nil
}

func (f fakeAccounts) List(_ context.Context, limit, offset int) ([]models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Account
	for _, a := range f.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeLedger struct{ *memDB }

func (f fakeLedger) Apply(_ context.Context, entry models.LedgerEntry) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.Event != nil {
		for _, ev := range f.events {
			if ev.EventKey == entry.Event.EventKey {
				return nil, repository.ErrDuplicateEvent
			}
		}
	}
	a, ok := f.accounts[entry.AccountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	if entry.Event != nil {
		ev := *entry.Event
		ev.ID = f.nextID()
		f.events = append(f.events, ev)
	}
	a.Credits = decimal.Max(a.Credits.Add(entry.Amount), decimal.Zero)
	if entry.SetTier != nil {
		a.Tier = *entry.SetTier
	}
	if entry.Type != "" {
		f.txs = append(f.txs, models.CreditTransaction{
			ID:            f.nextID(),
			AccountID:     a.ID,
			Amount:        entry.Amount,
			Type:          entry.Type,
			PaymentMethod: entry.PaymentMethod,
			Metadata:      entry.Metadata,
		})
	}
	cp := *a
	return &cp, nil
}

func (f fakeLedger) Reserve(_ context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok {
		return decimal.Zero, repository.ErrAccountNotFound
	}
	if !amount.IsPositive() {
		return a.Credits, nil
	}
	if a.Credits.LessThan(amount) {
		return decimal.Zero, repository.ErrInsufficientCredits
	}
	a.Credits = a.Credits.Sub(amount)
	return a.Credits, nil
}

func (f fakeLedger) Adjust(_ context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok {
		return decimal.Zero, repository.ErrAccountNotFound
	}
	a.Credits = decimal.Max(a.Credits.Add(delta), decimal.Zero)
	return a.Credits, nil
}

func (f fakeLedger) Balance(_ context.Context, accountID string) (decimal.Decimal, error) {
	a := f.account(accountID)
	if a == nil {
		return decimal.Zero, repository.ErrAccountNotFound
	}
	return a.Credits, nil
}

func (f fakeLedger) ListTransactions(_ context.Context, accountID string, limit int) ([]models.CreditTransaction, error) {
	txs := f.transactions(accountID)
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

func (f fakeLedger) RedeemCoupon(_ context.Context, accountID, code string, now time.Time, grant repository.GrantFunc) (*models.Account, *models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[code]
	if !ok {
		return nil, nil, repository.ErrCouponNotFound
	}
	if c.Expired(now) {
		return nil, nil, repository.ErrCouponExpired
	}
	if c.Exhausted() {
		return nil, nil, repository.ErrCouponExhausted
	}
	amount, err := grant(c)
	if err != nil {
		return nil, nil, err
	}
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, nil, repository.ErrAccountNotFound
	}
	key := accountID + "/" + code
	if f.redemptions[key] {
		return nil, nil, repository.ErrCouponRedeemed
	}
	f.redemptions[key] = true
	c.Uses++
	a.Credits = a.Credits.Add(amount)
	f.txs = append(f.txs, models.CreditTransaction{
		ID:            f.nextID(),
		AccountID:     accountID,
		Amount:        amount,
		Type:          models.TransactionTrial,
		PaymentMethod: "coupon",
		Metadata:      map[string]any{"coupon_code": c.Code},
	})
	acc, cp := *a, *c
	return &acc, &cp, nil
}

type fakeEvents struct{ *memDB }

func (f fakeEvents) Record(_ context.Context, event *models.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.EventKey == event.EventKey {
			return repository.ErrDuplicateEvent
		}
	}
	ev := *event
	ev.ID = f.nextID()
	f.events = append(f.events, ev)
	return nil
}

func (f fakeEvents) List(_ context.Context, limit int) ([]models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]models.WebhookEvent(nil), f.events...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeCoupons struct{ *memDB }

func (f fakeCoupons) GetByID(_ context.Context, id int64) (*models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.coupons {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f fakeCoupons) List(_ context.Context) ([]models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Coupon
	for _, c := range f.coupons {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeCoupons) Create(_ context.Context, coupon *models.Coupon) (*models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.coupons[coupon.Code]; ok {
		return nil, repository.ErrDuplicateCoupon
	}
	c := *coupon
	c.ID = f.nextID()
	f.coupons[c.Code] = &c
	cp := c
	return &cp, nil
}

func (f fakeCoupons) Update(_ context.Context, coupon *models.Coupon) (*models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for code, c := range f.coupons {
		if c.ID == coupon.ID {
			delete(f.coupons, code)
		}
	}
	if _, ok := f.coupons[coupon.Code]; ok {
		return nil, repository.ErrDuplicateCoupon
	}
	c := *coupon
	f.coupons[c.Code] = &c
	cp := c
	return &cp, nil
}

func (f fakeCoupons) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for code, c := range f.coupons {
		if c.ID == id {
			delete(f.coupons, code)
		}
	}
	return nil
}

type fakeUsage struct{ *memDB }

func (f fakeUsage) Log(_ context.Context, entry *models.UsageLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := *entry
	e.ID = f.nextID()
	f.usage = append(f.usage, e)
	return nil
}

func (f fakeUsage) ListByAccount(_ context.Context, accountID string, limit int) ([]models.UsageLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.UsageLog
	for _, u := range f.usage {
		if u.AccountID == accountID {
			out = append(out, u)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeUsage) SummarySince(_ context.Context, accountID string, _ time.Time) (repository.UsageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum repository.UsageSummary
	for _, u := range f.usage {
		if u.AccountID != accountID {
			continue
		}
		sum.Requests++
		sum.InputTokens += int64(u.InputTokens)
		sum.OutputTokens += int64(u.OutputTokens)
		sum.Cost = sum.Cost.Add(u.Cost)
	}
	return sum, nil
}

type fakeProjects struct{ *memDB }

func (f fakeProjects) List(_ context.Context) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Project
	for _, p := range f.projects {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeProjects) ListVisible(ctx context.Context) ([]models.Project, error) {
	all, _ := f.List(ctx)
	var out []models.Project
	for _, p := range all {
		if p.IsActive || p.ComingSoon {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f fakeProjects) GetBySlug(_ context.Context, slug string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.projects {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f fakeProjects) GetByID(_ context.Context, id int64) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.projects[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f fakeProjects) Create(_ context.Context, project *models.Project) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.projects {
		if p.Slug == project.Slug {
			return nil, repository.ErrDuplicateProject
		}
	}
	p := *project
	p.ID = f.nextID()
	f.projects[p.ID] = &p
	cp := p
	return &cp, nil
}

func (f fakeProjects) Update(_ context.Context, project *models.Project) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := *project
	f.projects[p.ID] = &p
	cp := p
	return &cp, nil
}

func (f fakeProjects) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projects, id)
	return nil
}

type fakeThreads struct{ *memDB }

func (f fakeThreads) Create(_ context.Context, thread *models.ChatThread) (*models.ChatThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := *thread
	t.ID = fmt.Sprintf("thread-%d", f.nextID())
	f.threads[t.ID] = &t
	cp := t
	return &cp, nil
}

func (f fakeThreads) Get(_ context.Context, id string) (*models.ChatThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.threads[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (f fakeThreads) ListByAccount(_ context.Context, accountID string, limit int) ([]models.ChatThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatThread
	for _, t := range f.threads {
		if t.AccountID == accountID {
			out = append(out, *t)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeThreads) AddMessage(_ context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := *msg
	m.ID = f.nextID()
	f.messages = append(f.messages, m)
	return nil
}

func (f fakeThreads) ListMessages(_ context.Context, threadID string, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type fakeImages struct{ *memDB }

func (f fakeImages) Create(_ context.Context, img *models.GeneratedImage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := *img
	i.ID = f.nextID()
	f.images = append(f.images, i)
	return nil
}

func (f fakeImages) ListByAccount(_ context.Context, accountID string, limit int) ([]models.GeneratedImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.GeneratedImage
	for _, i := range f.images {
		if i.AccountID == accountID {
			out = append(out, i)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeChat struct {
	enabled bool
	reply   string
	err     error
	calls   []n8n.ChatRequest
}

func (f *fakeChat) ChatEnabled() bool { return f.enabled }

func (f *fakeChat) Chat(_ context.Context, req n8n.ChatRequest) (string, error) {
	f.calls = append(f.calls, req)
	return f.reply, f.err
}

type fakeImageBackend struct {
	result *n8n.ImageResult
	err    error
	calls  []n8n.ImageRequest
}

func (f *fakeImageBackend) GenerateImages(_ context.Context, req n8n.ImageRequest) (*n8n.ImageResult, error) {
	f.calls = append(f.calls, req)
	return f.result, f.err
}

// fakeMirror prefixes URLs with a bucket host and fails for the listed sources.
type fakeMirror struct {
	fail map[string]bool
}

func (f fakeMirror) Mirror(_ context.Context, sourceURL string) (string, error) {
	if f.fail[sourceURL] {
		return "", fmt.Errorf("download %s: status 404", sourceURL)
	}
	return "https://bucket.example.com/" + sourceURL[len("https://"):], nil
}
