package navigator

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"mitchell-agent/logger"
	"mitchell-agent/models/navigation"
)

// HistoryCache persists successful Goal -> selection-path mappings so a
// repeated lookup for the same vehicle can skip straight to the known
// auto-selections instead of re-discovering them option by option. It is
// optional and never load-bearing for correctness: a cache miss (or no
// cache at all) just means the Navigator falls back to its normal
// deterministic resolution.
type HistoryCache struct {
	coll *mongo.Collection
}

// historyEntry is the persisted document shape, keyed by the Goal's own
// fields rather than a derived hash, so it can be queried directly.
type historyEntry struct {
	Year         int               `bson:"year"`
	Make         string            `bson:"make"`
	Model        string            `bson:"model"`
	Engine       string            `bson:"engine"`
	Submodel     string            `bson:"submodel"`
	BodyStyle    string            `bson:"body_style"`
	DriveType    string            `bson:"drive_type"`
	AutoSelected map[string]string `bson:"auto_selected"`
	StepsTaken   []string          `bson:"steps_taken"`
	UpdatedAt    time.Time         `bson:"updated_at"`
}

// NewHistoryCache connects to uri and returns a HistoryCache bound to
// the "mitchell_agent.navigation_history" collection. Returns an error
// if the initial ping fails, so callers can decide whether a cache
// outage should be fatal or simply disable caching for the run.
func NewHistoryCache(ctx context.Context, uri string) (*HistoryCache, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, err
	}
	coll := client.Database("mitchell_agent").Collection("navigation_history")
	return &HistoryCache{coll: coll}, nil
}

// Lookup returns the cached selection path for goal, if any.
func (c *HistoryCache) Lookup(ctx context.Context, goal navigation.Goal) (auto map[string]string, steps []string, ok bool) {
	var entry historyEntry
	err := c.coll.FindOne(ctx, goalFilter(goal)).Decode(&entry)
	if err != nil {
		if err != mongo.ErrNoDocuments {
			logger.Debug("navigation history lookup failed", zap.Error(err))
		}
		return nil, nil, false
	}
	return entry.AutoSelected, entry.StepsTaken, true
}

// Store upserts the resolved selection path for goal after a successful
// Navigate call.
func (c *HistoryCache) Store(ctx context.Context, goal navigation.Goal, autoSelected map[string]string, stepsTaken []string) {
	entry := historyEntry{
		Year: goal.Year, Make: goal.Make, Model: goal.Model,
		Engine: goal.Engine, Submodel: goal.Submodel,
		BodyStyle: goal.BodyStyle, DriveType: goal.DriveType,
		AutoSelected: autoSelected, StepsTaken: stepsTaken,
		UpdatedAt: time.Now(),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := c.coll.ReplaceOne(ctx, goalFilter(goal), entry, opts); err != nil {
		logger.Debug("navigation history store failed", zap.Error(err))
	}
}

func goalFilter(goal navigation.Goal) bson.M {
	return bson.M{
		"year": goal.Year, "make": goal.Make, "model": goal.Model,
		"engine": goal.Engine, "submodel": goal.Submodel,
		"body_style": goal.BodyStyle, "drive_type": goal.DriveType,
	}
}
