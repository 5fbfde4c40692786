package mongodb

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Managed index names.
const (
	UsernameIndex = "username_unique"
	EmailIndex    = "email_lookup"
)

// ManagedIndexes returns the indexes the service relies on, keyed by collection.
func ManagedIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		UsersCollection: {usernameIndexModel(), emailIndexModel()},
	}
}

// usernameIndexModel backs the registration conflict check so concurrent signups cannot both succeed.
func usernameIndexModel() mongo.IndexModel {
	return mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetName(UsernameIndex).SetUnique(true),
	}
}

func emailIndexModel() mongo.IndexModel {
	return mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName(EmailIndex),
	}
}
