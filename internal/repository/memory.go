package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/EchoWang-1/Flight-Servers/internal/domain"
)

// MemoryStore keeps everything in process. Single operations are atomic;
// WithinTx undoes a failed transaction's writes but does not isolate it from
// concurrent transactions, so callers serialize conflicting work themselves
// (the booking ledger does so per flight).
type MemoryStore struct {
	state *memoryState
	undo  *[]func()
}

type memoryState struct {
	mu      sync.RWMutex
	flights map[string]domain.Flight
	orders  map[string]domain.Order
	users   map[string]domain.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{
		flights: make(map[string]domain.Flight),
		orders:  make(map[string]domain.Order),
		users:   make(map[string]domain.User),
	}}
}

// PutFlight inserts or replaces a flight.
func (s *MemoryStore) PutFlight(f domain.Flight) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.flights[f.Number] = f
}

// PutUser inserts or replaces a user.
func (s *MemoryStore) PutUser(u domain.User) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.users[u.Username] = u
}

func (s *MemoryStore) Flights() FlightRepository { return memoryFlights{s} }

func (s *MemoryStore) Orders() OrderRepository { return memoryOrders{s} }

func (s *MemoryStore) Users() UserRepository { return memoryUsers{s} }

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.undo != nil {
		return fn(s)
	}

	var undo []func()
	tx := &MemoryStore{state: s.state, undo: &undo}
	if err := fn(tx); err != nil {
		s.state.mu.Lock()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		s.state.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() {}

// record registers an undo step; must be called with state.mu held.
func (s *MemoryStore) record(fn func()) {
	if s.undo != nil {
		*s.undo = append(*s.undo, fn)
	}
}

type memoryFlights struct{ s *MemoryStore }

func (r memoryFlights) List(ctx context.Context, filter domain.FlightFilter) ([]domain.Flight, error) {
	st := r.s.state
	st.mu.RLock()
	defer st.mu.RUnlock()

	flights := make([]domain.Flight, 0, len(st.flights))
	for _, f := range st.flights {
		if filter.FromCity != "" && f.FromCity != filter.FromCity {
			continue
		}
		if filter.ToCity != "" && f.ToCity != filter.ToCity {
			continue
		}
		if filter.Date != "" && f.Date != filter.Date {
			continue
		}
		flights = append(flights, f)
	}
	sort.Slice(flights, func(i, j int) bool {
		a, b := flights[i], flights[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.DepartTime != b.DepartTime {
			return a.DepartTime < b.DepartTime
		}
		return a.Number < b.Number
	})
	return flights, nil
}

func (r memoryFlights) GetByNumber(ctx context.Context, number string) (*domain.Flight, error) {
	st := r.s.state
	st.mu.RLock()
	defer st.mu.RUnlock()

	f, ok := st.flights[number]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (r memoryFlights) DecrementSeat(ctx context.Context, number string) (bool, error) {
	st := r.s.state
	st.mu.Lock()
	defer st.mu.Unlock()

	f, ok := st.flights[number]
	if !ok || f.RemainingSeats <= 0 {
		return false, nil
	}
	f.RemainingSeats--
	st.flights[number] = f
	r.s.record(func() { r.adjust(number, +1) })
	return true, nil
}

func (r memoryFlights) IncrementSeat(ctx context.Context, number string) error {
	st := r.s.state
	st.mu.Lock()
	defer st.mu.Unlock()

	f, ok := st.flights[number]
	if !ok {
		return ErrNotFound
	}
	f.RemainingSeats++
	st.flights[number] = f
	r.s.record(func() { r.adjust(number, -1) })
	return nil
}

func (r memoryFlights) adjust(number string, delta int) {
	f := r.s.state.flights[number]
	f.RemainingSeats += delta
	r.s.state.flights[number] = f
}

type memoryOrders struct{ s *MemoryStore }

func (r memoryOrders) Create(ctx context.Context, order *domain.Order) error {
	st := r.s.state
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.orders[order.ID]; exists {
		return fmt.Errorf("%w: order %s", ErrConflict, order.ID)
	}
	st.orders[order.ID] = *order
	id := order.ID
	r.s.record(func() { delete(st.orders, id) })
	return nil
}

func (r memoryOrders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	st := r.s.state
	st.mu.RLock()
	defer st.mu.RUnlock()

	o, ok := st.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (r memoryOrders) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	st := r.s.state
	st.mu.Lock()
	defer st.mu.Unlock()

	o, ok := st.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	st.orders[id] = o
	r.s.record(func() {
		o := st.orders[id]
		o.Status = from
		st.orders[id] = o
	})
	return true, nil
}

func (r memoryOrders) ListByUser(ctx context.Context, username string) ([]domain.OrderView, error) {
	st := r.s.state
	st.mu.RLock()
	defer st.mu.RUnlock()

	views := make([]domain.OrderView, 0)
	for _, o := range st.orders {
		if o.Username != username {
			continue
		}
		v := domain.OrderView{Order: o, Flight: st.flights[o.FlightNumber]}
		v.Flight.Number = o.FlightNumber
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.After(views[j].CreatedAt)
		}
		return views[i].ID < views[j].ID
	})
	return views, nil
}

func (r memoryOrders) PendingFlights(ctx context.Context, username string) (map[string]bool, error) {
	st := r.s.state
	st.mu.RLock()
	defer st.mu.RUnlock()

	booked := make(map[string]bool)
	for _, o := range st.orders {
		if o.Username == username && o.Status == domain.OrderStatusPending {
			booked[o.FlightNumber] = true
		}
	}
	return booked, nil
}

type memoryUsers struct{ s *MemoryStore }

func (r memoryUsers) Create(ctx context.Context, u *domain.User) error {
	st := r.s.state
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.users[u.Username]; exists {
		return fmt.Errorf("%w: user %s", ErrConflict, u.Username)
	}
	for _, existing := range st.users {
		if existing.Phone == u.Phone || (u.IDCard != "" && existing.IDCard == u.IDCard) {
			return fmt.Errorf("%w: user %s", ErrConflict, u.Username)
		}
	}
	st.users[u.Username] = *u
	name := u.Username
	r.s.record(func() { delete(st.users, name) })
	return nil
}

func (r memoryUsers) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	st := r.s.state
	st.mu.RLock()
	defer st.mu.RUnlock()

	u, ok := st.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r memoryUsers) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	u, ok := r.find(func(u domain.User) bool { return u.Phone == phone })
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r memoryUsers) Exists(ctx context.Context, username string) (bool, error) {
	_, ok := r.find(func(u domain.User) bool { return u.Username == username })
	return ok, nil
}

func (r memoryUsers) PhoneExists(ctx context.Context, phone string) (bool, error) {
	_, ok := r.find(func(u domain.User) bool { return u.Phone == phone })
	return ok, nil
}

func (r memoryUsers) IDCardExists(ctx context.Context, idCard string) (bool, error) {
	_, ok := r.find(func(u domain.User) bool { return idCard != "" && u.IDCard == idCard })
	return ok, nil
}

func (r memoryUsers) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	st := r.s.state
	st.mu.Lock()
	defer st.mu.Unlock()

	u, ok := st.users[username]
	if !ok {
		return ErrNotFound
	}
	prev := u.PasswordHash
	u.PasswordHash = passwordHash
	st.users[username] = u
	r.s.record(func() {
		u := st.users[username]
		u.PasswordHash = prev
		st.users[username] = u
	})
	return nil
}

func (r memoryUsers) find(match func(domain.User) bool) (domain.User, bool) {
	st := r.s.state
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, u := range st.users {
		if match(u) {
			return u, true
		}
	}
	return domain.User{}, false
}

var _ Store = (*MemoryStore)(nil)
