/*
Package mongo provides a MongoDB-backed implementation of the storage interfaces.

COLLECTIONS:
  users:    {email, name, role, selectedClasses[], enrolledClasses[], numberOfStudents}
  classes:  {_id: ObjectId, name, price, totalSeats, enrolledStudents, instructorEmail, ...}
  payments: {transactionId (unique), email, classId, instructorEmail, price, date, ...}

  Prices are Decimal128 in both collections.

ATOMICITY:
  WithTx runs the callback in a multi-document session transaction, so the
  reconcile commit (user sets, class counter, instructor counter, payment
  insert) is all-or-nothing. This requires a replica set or sharded cluster.
  Outside a transaction, AddSelection and MarkEnrolled are still single
  document updates with the state check in the filter.

IDENTIFIERS:
  Class ids are 24-char hex ObjectIds. Anything else is ErrClassNotFound;
  ids are never coerced. Instructors are always looked up by email.
*/
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/enrollment-engine/enrollment"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Store implements enrollment.TxStore and enrollment.Catalog.
type Store struct {
	*docs
	client *mongo.Client
}

// docs carries the collections. sc is set inside WithTx and overrides the
// caller's context so every operation joins the session.
type docs struct {
	users    *mongo.Collection
	classes  *mongo.Collection
	payments *mongo.Collection
	sc       mongo.SessionContext
}

// New connects to uri and prepares indexes on database dbName.
func New(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client: client,
		docs: &docs{
			users:    db.Collection("users"),
			classes:  db.Collection("classes"),
			payments: db.Collection("payments"),
		},
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	if _, err := s.payments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "transactionId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}, {Key: "date", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("payments index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// WithTx executes fn within a session transaction. The driver may run fn
// more than once on transient errors.
func (s *Store) WithTx(ctx context.Context, fn func(enrollment.Store) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		view := &docs{users: s.users, classes: s.classes, payments: s.payments, sc: sc}
		return nil, fn(view)
	})
	return err
}

func (d *docs) ctx(ctx context.Context) context.Context {
	if d.sc != nil {
		return d.sc
	}
	return ctx
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type userDoc struct {
	Email            string   `bson:"email"`
	Name             string   `bson:"name,omitempty"`
	Role             string   `bson:"role,omitempty"`
	SelectedClasses  []string `bson:"selectedClasses,omitempty"`
	EnrolledClasses  []string `bson:"enrolledClasses,omitempty"`
	NumberOfStudents int      `bson:"numberOfStudents,omitempty"`
}

type classDoc struct {
	ID               primitive.ObjectID   `bson:"_id"`
	Name             string               `bson:"name"`
	Price            primitive.Decimal128 `bson:"price"`
	TotalSeats       int                  `bson:"totalSeats"`
	EnrolledStudents int                  `bson:"enrolledStudents"`
	InstructorEmail  string               `bson:"instructorEmail"`
	InstructorName   string               `bson:"instructorName,omitempty"`
	Status           string               `bson:"status,omitempty"`
}

type paymentDoc struct {
	TransactionID         string               `bson:"transactionId"`
	Email                 string               `bson:"email"`
	Name                  string               `bson:"name,omitempty"`
	ClassID               string               `bson:"classId"`
	ClassName             string               `bson:"className,omitempty"`
	InstructorEmail       string               `bson:"instructorEmail"`
	InstructorName        string               `bson:"instructorName,omitempty"`
	Price                 primitive.Decimal128 `bson:"price"`
	Date                  time.Time            `bson:"date"`
	EnrolledStudentsAfter int                  `bson:"enrolledStudentsAfter"`
	NumberOfStudentsAfter int                  `bson:"numberOfStudentsAfter"`
}

func (u userDoc) toStudent() enrollment.Student {
	st := enrollment.Student{
		Email:            u.Email,
		Name:             u.Name,
		Role:             enrollment.Role(u.Role),
		NumberOfStudents: u.NumberOfStudents,
	}
	for _, id := range u.SelectedClasses {
		st.SelectedClasses = append(st.SelectedClasses, enrollment.ClassID(id))
	}
	for _, id := range u.EnrolledClasses {
		st.EnrolledClasses = append(st.EnrolledClasses, enrollment.ClassID(id))
	}
	enrollment.SortClasses(st.SelectedClasses)
	enrollment.SortClasses(st.EnrolledClasses)
	return st
}

func (c classDoc) toClass() (enrollment.Class, error) {
	price, err := fromDecimal128(c.Price)
	if err != nil {
		return enrollment.Class{}, fmt.Errorf("bad price on class %s: %w", c.ID.Hex(), err)
	}
	return enrollment.Class{
		ID:               enrollment.ClassID(c.ID.Hex()),
		Name:             c.Name,
		Price:            price,
		TotalSeats:       c.TotalSeats,
		EnrolledStudents: c.EnrolledStudents,
		InstructorEmail:  c.InstructorEmail,
		InstructorName:   c.InstructorName,
		Status:           c.Status,
	}, nil
}

func (p paymentDoc) toReceipt() (enrollment.Receipt, error) {
	price, err := fromDecimal128(p.Price)
	if err != nil {
		return enrollment.Receipt{}, fmt.Errorf("bad price on payment %s: %w", p.TransactionID, err)
	}
	return enrollment.Receipt{
		Payment: enrollment.Payment{
			TransactionID:   enrollment.TransactionID(p.TransactionID),
			StudentEmail:    p.Email,
			StudentName:     p.Name,
			ClassID:         enrollment.ClassID(p.ClassID),
			ClassName:       p.ClassName,
			InstructorEmail: p.InstructorEmail,
			InstructorName:  p.InstructorName,
			Price:           price,
			Date:            p.Date.UTC(),
		},
		Counters: enrollment.Counters{
			ClassID:          enrollment.ClassID(p.ClassID),
			EnrolledStudents: p.EnrolledStudentsAfter,
			InstructorEmail:  p.InstructorEmail,
			NumberOfStudents: p.NumberOfStudentsAfter,
		},
	}, nil
}

// Prices are stored as Decimal128 so no cents are lost to float rounding.
func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("%w: %s: %v", enrollment.ErrInvalidPrice, d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(v.String())
}

func objectID(id enrollment.ClassID) (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(string(id))
	return oid, err == nil
}

// =============================================================================
// USERS & CLASS SETS
// =============================================================================

func (d *docs) GetStudent(ctx context.Context, email string) (*enrollment.Student, error) {
	var u userDoc
	err := d.users.FindOne(d.ctx(ctx), bson.M{"email": email}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	st := u.toStudent()
	return &st, nil
}

func (d *docs) AddSelection(ctx context.Context, email string, classID enrollment.ClassID) error {
	id := string(classID)
	res, err := d.users.UpdateOne(d.ctx(ctx),
		bson.M{"email": email, "selectedClasses": bson.M{"$ne": id}, "enrolledClasses": bson.M{"$ne": id}},
		bson.M{"$addToSet": bson.M{"selectedClasses": id}},
	)
	if err != nil {
		return fmt.Errorf("failed to add selection: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	st, err := d.GetStudent(ctx, email)
	if err != nil {
		return err
	}
	if st == nil {
		return enrollment.StudentNotFound(email)
	}
	return enrollment.AlreadyHeld(email, classID, st.State(classID))
}

func (d *docs) RemoveSelection(ctx context.Context, email string, classID enrollment.ClassID) error {
	_, err := d.users.UpdateOne(d.ctx(ctx),
		bson.M{"email": email},
		bson.M{"$pull": bson.M{"selectedClasses": string(classID)}},
	)
	return err
}

func (d *docs) MarkEnrolled(ctx context.Context, email string, classID enrollment.ClassID) error {
	id := string(classID)
	res, err := d.users.UpdateOne(d.ctx(ctx),
		bson.M{"email": email},
		bson.M{
			"$pull":     bson.M{"selectedClasses": id},
			"$addToSet": bson.M{"enrolledClasses": id},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to mark enrolled: %w", err)
	}
	if res.MatchedCount == 0 {
		return enrollment.StudentNotFound(email)
	}
	return nil
}

func (d *docs) ListInstructors(ctx context.Context) ([]enrollment.Student, error) {
	cur, err := d.users.Find(d.ctx(ctx), bson.M{"role": string(enrollment.RoleInstructor)},
		options.Find().SetSort(bson.D{{Key: "email", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var found []userDoc
	if err := cur.All(d.ctx(ctx), &found); err != nil {
		return nil, err
	}
	out := make([]enrollment.Student, 0, len(found))
	for _, u := range found {
		out = append(out, u.toStudent())
	}
	return out, nil
}

func (d *docs) IncrementInstructorStudents(ctx context.Context, email string) (int, error) {
	var u userDoc
	err := d.users.FindOneAndUpdate(d.ctx(ctx),
		bson.M{"email": email, "role": string(enrollment.RoleInstructor)},
		bson.M{"$inc": bson.M{"numberOfStudents": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, enrollment.InstructorNotFound(email)
	}
	if err != nil {
		return 0, err
	}
	return u.NumberOfStudents, nil
}

func (d *docs) SetInstructorStudents(ctx context.Context, email string, n int) error {
	res, err := d.users.UpdateOne(d.ctx(ctx),
		bson.M{"email": email, "role": string(enrollment.RoleInstructor)},
		bson.M{"$set": bson.M{"numberOfStudents": n}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return enrollment.InstructorNotFound(email)
	}
	return nil
}

// =============================================================================
// CLASSES
// =============================================================================

func (d *docs) GetClass(ctx context.Context, id enrollment.ClassID) (*enrollment.Class, error) {
	oid, ok := objectID(id)
	if !ok {
		return nil, nil
	}
	var c classDoc
	err := d.classes.FindOne(d.ctx(ctx), bson.M{"_id": oid}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get class: %w", err)
	}
	class, err := c.toClass()
	if err != nil {
		return nil, err
	}
	return &class, nil
}

func (d *docs) ListClasses(ctx context.Context) ([]enrollment.Class, error) {
	cur, err := d.classes.Find(d.ctx(ctx), bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var found []classDoc
	if err := cur.All(d.ctx(ctx), &found); err != nil {
		return nil, err
	}
	out := make([]enrollment.Class, 0, len(found))
	for _, c := range found {
		class, err := c.toClass()
		if err != nil {
			return nil, err
		}
		out = append(out, class)
	}
	return out, nil
}

func (d *docs) IncrementClassEnrollment(ctx context.Context, id enrollment.ClassID) (int, error) {
	oid, ok := objectID(id)
	if !ok {
		return 0, enrollment.ClassNotFound(id)
	}
	var c classDoc
	err := d.classes.FindOneAndUpdate(d.ctx(ctx),
		bson.M{"_id": oid},
		bson.M{"$inc": bson.M{"enrolledStudents": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, enrollment.ClassNotFound(id)
	}
	if err != nil {
		return 0, err
	}
	return c.EnrolledStudents, nil
}

func (d *docs) SetClassEnrollment(ctx context.Context, id enrollment.ClassID, n int) error {
	oid, ok := objectID(id)
	if !ok {
		return enrollment.ClassNotFound(id)
	}
	res, err := d.classes.UpdateOne(d.ctx(ctx), bson.M{"_id": oid}, bson.M{"$set": bson.M{"enrolledStudents": n}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return enrollment.ClassNotFound(id)
	}
	return nil
}

// =============================================================================
// PAYMENTS (append-only)
// =============================================================================

func (d *docs) InsertReceipt(ctx context.Context, r enrollment.Receipt) error {
	p := r.Payment
	price, err := toDecimal128(p.Price)
	if err != nil {
		return err
	}
	_, err = d.payments.InsertOne(d.ctx(ctx), paymentDoc{
		TransactionID:         string(p.TransactionID),
		Email:                 p.StudentEmail,
		Name:                  p.StudentName,
		ClassID:               string(p.ClassID),
		ClassName:             p.ClassName,
		InstructorEmail:       p.InstructorEmail,
		InstructorName:        p.InstructorName,
		Price:                 price,
		Date:                  p.Date.UTC(),
		EnrolledStudentsAfter: r.Counters.EnrolledStudents,
		NumberOfStudentsAfter: r.Counters.NumberOfStudents,
	})
	if mongo.IsDuplicateKeyError(err) {
		return enrollment.ErrDuplicateTransaction
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (d *docs) GetReceipt(ctx context.Context, txID enrollment.TransactionID) (*enrollment.Receipt, error) {
	var p paymentDoc
	err := d.payments.FindOne(d.ctx(ctx), bson.M{"transactionId": string(txID)}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	r, err := p.toReceipt()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *docs) ReceiptsByStudent(ctx context.Context, email string) ([]enrollment.Receipt, error) {
	return d.findReceipts(ctx, bson.M{"email": email})
}

func (d *docs) ListReceipts(ctx context.Context) ([]enrollment.Receipt, error) {
	return d.findReceipts(ctx, bson.M{})
}

func (d *docs) findReceipts(ctx context.Context, filter bson.M) ([]enrollment.Receipt, error) {
	cur, err := d.payments.Find(d.ctx(ctx), filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	var found []paymentDoc
	if err := cur.All(d.ctx(ctx), &found); err != nil {
		return nil, err
	}
	out := make([]enrollment.Receipt, 0, len(found))
	for _, p := range found {
		r, err := p.toReceipt()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// =============================================================================
// CATALOG
// =============================================================================

// SaveStudent replaces the user document. A class id present in both sets
// is kept as enrolled.
func (s *Store) SaveStudent(ctx context.Context, st enrollment.Student) error {
	role := st.Role
	if role == "" {
		role = enrollment.RoleStudent
	}
	doc := userDoc{Email: st.Email, Name: st.Name, Role: string(role), NumberOfStudents: st.NumberOfStudents}
	for _, id := range st.EnrolledClasses {
		doc.EnrolledClasses = append(doc.EnrolledClasses, string(id))
	}
	for _, id := range st.SelectedClasses {
		if !st.IsEnrolled(id) {
			doc.SelectedClasses = append(doc.SelectedClasses, string(id))
		}
	}
	_, err := s.users.ReplaceOne(ctx, bson.M{"email": st.Email}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) SaveClass(ctx context.Context, c enrollment.Class) error {
	oid, ok := objectID(c.ID)
	if !ok {
		return fmt.Errorf("%w: class id %q is not an ObjectId", enrollment.ErrInvalidRequest, c.ID)
	}
	price, err := toDecimal128(c.Price)
	if err != nil {
		return err
	}
	doc := classDoc{
		ID:               oid,
		Name:             c.Name,
		Price:            price,
		TotalSeats:       c.TotalSeats,
		EnrolledStudents: c.EnrolledStudents,
		InstructorEmail:  c.InstructorEmail,
		InstructorName:   c.InstructorName,
		Status:           c.Status,
	}
	_, err = s.classes.ReplaceOne(ctx, bson.M{"_id": oid}, doc, options.Replace().SetUpsert(true))
	return err
}
