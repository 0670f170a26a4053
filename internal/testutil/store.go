// Package testutil provides an in-memory implementation of the repositories
// and transactor for service and handler tests.
package testutil

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/outbox"
	"github.com/flicky/storefront-api/internal/repository"
)

type txKey struct{}

type state struct {
	users      map[uuid.UUID]model.User
	categories map[uuid.UUID]model.Category
	products   map[uuid.UUID]model.Product
	carts      map[uuid.UUID]model.Cart
	cartItems  map[uuid.UUID]model.CartItem
	orders     map[uuid.UUID]model.Order
	otps       map[string]model.OTPCode
	events     []outbox.Event
}

func newState() state {
	return state{
		users:      map[uuid.UUID]model.User{},
		categories: map[uuid.UUID]model.Category{},
		products:   map[uuid.UUID]model.Product{},
		carts:      map[uuid.UUID]model.Cart{},
		cartItems:  map[uuid.UUID]model.CartItem{},
		orders:     map[uuid.UUID]model.Order{},
		otps:       map[string]model.OTPCode{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.products {
		c.products[k] = copyProduct(v)
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.cartItems {
		c.cartItems[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range s.otps {
		c.otps[k] = v
	}
	c.events = slices.Clone(s.events)
	return c
}

// Store keeps every table in memory. Transactions are serialized and a
// failed transaction restores the snapshot taken when it began.
type Store struct {
	txMu sync.Mutex

	mu      sync.Mutex
	data    state
	clock   time.Time
	eventID int64

	// EnqueueErr, when set, fails every outbox Enqueue.
	EnqueueErr error
}

func NewStore() *Store {
	return &Store{data: newState(), clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (s *Store) Users() repository.UserRepository { return userRepo{s} }
func (s *Store) Categories() repository.CategoryRepository { return categoryRepo{s} }
func (s *Store) Products() repository.ProductRepository { return productRepo{s} }
func (s *Store) Carts() repository.CartRepository { return cartRepo{s} }
func (s *Store) Orders() repository.OrderRepository { return orderRepo{s} }
func (s *Store) OTPs() repository.OTPRepository { return otpRepo{s} }
func (s *Store) Outbox() *OutboxRecorder { return &OutboxRecorder{s} }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// now advances a fake clock so rows get distinct, ordered timestamps.
func (s *Store) now() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

// Seed helpers write directly, bypassing uniqueness checks.

func (s *Store) SeedUser(u model.User) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = model.RoleCustomer
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	s.data.users[u.ID] = u
	return u
}

func (s *Store) SeedCategory(c model.Category) model.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.data.categories[c.ID] = c
	return c
}

func (s *Store) SeedProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.data.products[p.ID] = copyProduct(p)
	return p
}

// Product returns the stored row, or nil.
func (s *Store) Product(id uuid.UUID) *model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.products[id]
	if !ok {
		return nil
	}
	p = copyProduct(p)
	return &p
}

func (s *Store) CartItemCount(cartID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.data.cartItems {
		if it.CartID == cartID {
			n++
		}
	}
	return n
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.orders)
}

func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.events)
}

func copyProduct(p model.Product) model.Product {
	if p.CategoryID != nil {
		id := *p.CategoryID
		p.CategoryID = &id
	}
	return p
}

func copyOrder(o model.Order) model.Order {
	o.Items = slices.Clone(o.Items)
	return o
}

// users

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.data.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	user.ID = uuid.New()
	now := r.s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	r.s.data.users[user.ID] = *user
	return nil
}

func (r userRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.data.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (r userRepo) Update(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	for _, u := range r.s.data.users {
		if u.Email == user.Email && u.ID != user.ID {
			return repository.ErrDuplicate
		}
	}
	user.UpdatedAt = r.s.now()
	r.s.data.users[user.ID] = *user
	return nil
}

func (r userRepo) UpdatePasswordByEmail(_ context.Context, email, passwordHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, u := range r.s.data.users {
		if u.Email == email {
			u.PasswordHash = passwordHash
			u.UpdatedAt = r.s.now()
			r.s.data.users[id] = u
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r userRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.data.users, id)
	for cid, c := range r.s.data.carts {
		if c.UserID == id {
			r.s.deleteCartLocked(cid)
		}
	}
	for oid, o := range r.s.data.orders {
		if o.UserID == id {
			delete(r.s.data.orders, oid)
		}
	}
	return nil
}

// categories

type categoryRepo struct{ s *Store }

func (r categoryRepo) Create(_ context.Context, category *model.Category) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.data.categories {
		if c.Name == category.Name {
			return repository.ErrDuplicate
		}
	}
	category.ID = uuid.New()
	now := r.s.now()
	category.CreatedAt, category.UpdatedAt = now, now
	r.s.data.categories[category.ID] = *category
	return nil
}

func (r categoryRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.categories[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r categoryRepo) List(_ context.Context) ([]model.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Category, 0, len(r.s.data.categories))
	for _, c := range r.s.data.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b model.Category) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (r categoryRepo) Update(_ context.Context, category *model.Category) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.categories[category.ID]; !ok {
		return repository.ErrNotFound
	}
	for _, c := range r.s.data.categories {
		if c.Name == category.Name && c.ID != category.ID {
			return repository.ErrDuplicate
		}
	}
	category.UpdatedAt = r.s.now()
	r.s.data.categories[category.ID] = *category
	return nil
}

func (r categoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.categories[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.data.categories, id)
	for pid, p := range r.s.data.products {
		if p.CategoryID != nil && *p.CategoryID == id {
			p.CategoryID = nil
			r.s.data.products[pid] = p
		}
	}
	return nil
}

func (r categoryRepo) ExistsByName(_ context.Context, name string, exclude *uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.data.categories {
		if c.Name == name && (exclude == nil || c.ID != *exclude) {
			return true, nil
		}
	}
	return false, nil
}

// products

type productRepo struct{ s *Store }

func (r productRepo) Create(_ context.Context, product *model.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.data.products {
		if p.Name == product.Name {
			return repository.ErrDuplicate
		}
	}
	product.ID = uuid.New()
	now := r.s.now()
	product.CreatedAt, product.UpdatedAt = now, now
	r.s.data.products[product.ID] = copyProduct(*product)
	return nil
}

func (r productRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.products[id]
	if !ok {
		return nil, nil
	}
	p = copyProduct(p)
	return &p, nil
}

func (r productRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return r.GetByID(ctx, id)
}

func (r productRepo) List(_ context.Context, q repository.ProductQuery) ([]model.Product, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	search := strings.ToLower(q.Search)
	matched := []model.Product{}
	for _, p := range r.s.data.products {
		if q.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *q.CategoryID) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		matched = append(matched, copyProduct(p))
	}

	slices.SortFunc(matched, func(a, b model.Product) int {
		var c int
		switch q.Sort {
		case "name":
			c = strings.Compare(a.Name, b.Name)
		case "price":
			c = a.Price.Cmp(b.Price)
		case "stock":
			c = a.Stock - b.Stock
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if q.Order != "asc" {
			c = -c
		}
		if c == 0 {
			c = strings.Compare(a.ID.String(), b.ID.String())
		}
		return c
	})

	total := len(matched)
	start := min(q.Offset, total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}
	return matched[start:end], total, nil
}

func (r productRepo) Update(_ context.Context, product *model.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.products[product.ID]; !ok {
		return repository.ErrNotFound
	}
	for _, p := range r.s.data.products {
		if p.Name == product.Name && p.ID != product.ID {
			return repository.ErrDuplicate
		}
	}
	product.UpdatedAt = r.s.now()
	r.s.data.products[product.ID] = copyProduct(*product)
	return nil
}

func (r productRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.products[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.data.products, id)
	for iid, it := range r.s.data.cartItems {
		if it.ProductID == id {
			delete(r.s.data.cartItems, iid)
		}
	}
	return nil
}

func (r productRepo) ExistsByName(_ context.Context, name string, exclude *uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.data.products {
		if p.Name == name && (exclude == nil || p.ID != *exclude) {
			return true, nil
		}
	}
	return false, nil
}

func (r productRepo) DecrementStock(_ context.Context, productID uuid.UUID, quantity int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.products[productID]
	if !ok || p.Stock < quantity {
		return repository.ErrInsufficientStock
	}
	p.Stock -= quantity
	p.UpdatedAt = r.s.now()
	r.s.data.products[productID] = p
	return nil
}

// carts

type cartRepo struct{ s *Store }

func (r cartRepo) Create(_ context.Context, userID uuid.UUID) (*model.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.data.carts {
		if c.UserID == userID {
			return &c, nil
		}
	}
	c := model.Cart{ID: uuid.New(), UserID: userID, CreatedAt: r.s.now()}
	c.UpdatedAt = c.CreatedAt
	r.s.data.carts[c.ID] = c
	return &c, nil
}

func (r cartRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.carts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r cartRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Cart, error) {
	return r.GetByID(ctx, id)
}

func (r cartRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*model.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.data.carts {
		if c.UserID == userID {
			return &c, nil
		}
	}
	return nil, nil
}

func (r cartRepo) GetByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	return r.GetByUserID(ctx, userID)
}

func (r cartRepo) ListItems(_ context.Context, cartID uuid.UUID) ([]model.CartItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := []model.CartItem{}
	for _, it := range r.s.data.cartItems {
		if it.CartID != cartID {
			continue
		}
		p, ok := r.s.data.products[it.ProductID]
		if !ok {
			continue
		}
		p = copyProduct(p)
		it.Product = &p
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b model.CartItem) int {
		return strings.Compare(a.ProductID.String(), b.ProductID.String())
	})
	return items, nil
}

func (r cartRepo) GetItem(_ context.Context, cartID, productID uuid.UUID) (*model.CartItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, it := range r.s.data.cartItems {
		if it.CartID == cartID && it.ProductID == productID {
			return &it, nil
		}
	}
	return nil, nil
}

func (r cartRepo) GetItemByID(_ context.Context, itemID uuid.UUID) (*model.CartItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.data.cartItems[itemID]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (r cartRepo) AddItem(_ context.Context, item *model.CartItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, it := range r.s.data.cartItems {
		if it.CartID == item.CartID && it.ProductID == item.ProductID {
			return repository.ErrDuplicate
		}
	}
	item.ID = uuid.New()
	now := r.s.now()
	item.CreatedAt, item.UpdatedAt = now, now
	stored := *item
	stored.Product = nil
	r.s.data.cartItems[item.ID] = stored
	return nil
}

func (r cartRepo) UpdateItemQuantity(_ context.Context, itemID uuid.UUID, quantity int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.data.cartItems[itemID]
	if !ok {
		return repository.ErrNotFound
	}
	it.Quantity = quantity
	it.UpdatedAt = r.s.now()
	r.s.data.cartItems[itemID] = it
	return nil
}

func (r cartRepo) DeleteItem(_ context.Context, itemID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.data.cartItems, itemID)
	return nil
}

func (r cartRepo) ClearItems(_ context.Context, cartID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, it := range r.s.data.cartItems {
		if it.CartID == cartID {
			delete(r.s.data.cartItems, id)
		}
	}
	return nil
}

func (s *Store) deleteCartLocked(cartID uuid.UUID) {
	delete(s.data.carts, cartID)
	for id, it := range s.data.cartItems {
		if it.CartID == cartID {
			delete(s.data.cartItems, id)
		}
	}
}

// orders

type orderRepo struct{ s *Store }

func (r orderRepo) Create(_ context.Context, order *model.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order.ID = uuid.New()
	now := r.s.now()
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.Items {
		order.Items[i].ID = uuid.New()
		order.Items[i].OrderID = order.ID
	}
	r.s.data.orders[order.ID] = copyOrder(*order)
	return nil
}

func (r orderRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.data.orders[id]
	if !ok {
		return nil, nil
	}
	o = copyOrder(o)
	return &o, nil
}

func (r orderRepo) ListByUserID(_ context.Context, userID uuid.UUID) ([]model.Order, error) {
	return r.list(func(o model.Order) bool { return o.UserID == userID }), nil
}

func (r orderRepo) List(_ context.Context) ([]model.Order, error) {
	return r.list(func(model.Order) bool { return true }), nil
}

func (r orderRepo) list(keep func(model.Order) bool) []model.Order {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	orders := []model.Order{}
	for _, o := range r.s.data.orders {
		if keep(o) {
			orders = append(orders, copyOrder(o))
		}
	}
	slices.SortFunc(orders, func(a, b model.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return orders
}

// otp

type otpRepo struct{ s *Store }

func (r otpRepo) Upsert(_ context.Context, otp *model.OTPCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	otp.CreatedAt = r.s.now()
	r.s.data.otps[otp.Email] = *otp
	return nil
}

func (r otpRepo) Get(_ context.Context, email string) (*model.OTPCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.data.otps[email]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r otpRepo) Delete(_ context.Context, email string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.data.otps, email)
	return nil
}

func (r otpRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for email, o := range r.s.data.otps {
		if o.Expired(now) {
			delete(r.s.data.otps, email)
			n++
		}
	}
	return n, nil
}

// OutboxRecorder appends events to the store inside the caller's transaction.
type OutboxRecorder struct{ s *Store }

func (r *OutboxRecorder) Enqueue(_ context.Context, event *outbox.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.EnqueueErr != nil {
		return r.s.EnqueueErr
	}
	r.s.eventID++
	event.ID = r.s.eventID
	event.Status = outbox.StatusPending
	event.CreatedAt = r.s.now()
	r.s.data.events = append(r.s.data.events, *event)
	return nil
}
