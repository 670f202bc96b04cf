package multitable

import (
	"kddetl/internal/kdd"
	"kddetl/internal/storage"
)

// Star-schema table names.
const (
	TableAttackCategories = "attack_categories"
	TableAttackTypes      = "attack_types"
	TableProtocolTypes    = "protocol_types"
	TableServices         = "services"
	TableFlags            = "flags"
	TableDestination      = "destination"
	TableConnections      = "connections"
)

// Surrogate key and value columns of the dimensions.
const (
	ColCategoryID    = "category_id"
	ColCategoryName  = "category_name"
	ColAttackID      = "attack_id"
	ColAttackName    = "attack_name"
	ColProtocolID    = "protocol_id"
	ColProtocolName  = "protocol_name"
	ColServiceID     = "service_id"
	ColServiceName   = "service_name"
	ColFlagID        = "flag_id"
	ColFlagValue     = "flag_value"
	ColDestinationID = "destination_id"
)

// FactColumns is the column order of every fact row written to connections.
var FactColumns = []string{
	kdd.ColDuration, kdd.ColSrcBytes, kdd.ColDstBytes, kdd.ColLand, kdd.ColLoggedIn,
	kdd.ColCount, kdd.ColSrvCount, kdd.ColSerrorRate, kdd.ColRerrorRate, kdd.ColSameSrvRate,
	kdd.ColDstHostCount, kdd.ColDstHostSrvCount, kdd.ColDifficultyLevel,
	ColProtocolID, ColServiceID, ColFlagID, ColAttackID, ColDestinationID,
}

// createOrder lists tables so that every table follows the tables it references.
var createOrder = []string{
	TableAttackCategories,
	TableAttackTypes,
	TableProtocolTypes,
	TableServices,
	TableFlags,
	TableDestination,
	TableConnections,
}

// ResetOrder is the delete order of a run reset: the fact table first, then
// the dimensions in reverse dependency order.
func ResetOrder() []string {
	out := make([]string, len(createOrder))
	for i, name := range createOrder {
		out[len(createOrder)-1-i] = name
	}
	return out
}

// SchemaOptions shape the generated table specs.
type SchemaOptions struct {
	// AutoCreate flags every table for creation when missing.
	AutoCreate bool

	// NullableFactKeys makes the fact table's foreign ids nullable
	// (on_missing "null").
	NullableFactKeys bool
}

// Schema returns the seven star-schema tables in creation order.
func Schema(opt SchemaOptions) []storage.TableSpec {
	yes := true
	var fkNullable *bool
	if opt.NullableFactKeys {
		fkNullable = &yes
	}

	dim := func(name, id string, cols ...storage.ColumnSpec) storage.TableSpec {
		return storage.TableSpec{
			Name:            name,
			Kind:            storage.KindDimension,
			AutoCreateTable: opt.AutoCreate,
			PrimaryKey:      &storage.PrimaryKeySpec{Name: id},
			Columns:         cols,
		}
	}
	uniqueOn := func(t storage.TableSpec) storage.TableSpec {
		t.Constraints = []storage.ConstraintSpec{{Kind: "unique", Columns: t.ColumnNames()}}
		return t
	}
	text := func(name string) storage.ColumnSpec { return storage.ColumnSpec{Name: name, Type: storage.TypeText} }
	fk := func(name, ref string) storage.ColumnSpec {
		return storage.ColumnSpec{Name: name, Type: storage.TypeInt, References: ref, Nullable: fkNullable}
	}

	categories := uniqueOn(dim(TableAttackCategories, ColCategoryID, text(ColCategoryName)))
	attacks := uniqueOn(dim(TableAttackTypes, ColAttackID,
		text(ColAttackName),
		storage.ColumnSpec{Name: ColCategoryID, Type: storage.TypeInt, References: ref(TableAttackCategories, ColCategoryID)},
	))
	// category_id is not part of the attack-name key.
	attacks.Constraints[0].Columns = []string{ColAttackName}

	protocols := uniqueOn(dim(TableProtocolTypes, ColProtocolID, text(ColProtocolName)))
	services := uniqueOn(dim(TableServices, ColServiceID, text(ColServiceName)))
	flags := uniqueOn(dim(TableFlags, ColFlagID, text(ColFlagValue)))

	destination := uniqueOn(dim(TableDestination, ColDestinationID,
		storage.ColumnSpec{Name: kdd.ColDstBytes, Type: storage.TypeBigInt},
		storage.ColumnSpec{Name: kdd.ColDstHostCount, Type: storage.TypeInt},
		storage.ColumnSpec{Name: kdd.ColDstHostSrvCount, Type: storage.TypeInt},
		storage.ColumnSpec{Name: kdd.ColDstHostSameSrvRate, Type: storage.TypeFloat},
		storage.ColumnSpec{Name: kdd.ColDstHostDiffSrvRate, Type: storage.TypeFloat},
		storage.ColumnSpec{Name: kdd.ColDstHostSerrorRate, Type: storage.TypeFloat},
	))

	connections := storage.TableSpec{
		Name:            TableConnections,
		Kind:            storage.KindFact,
		AutoCreateTable: opt.AutoCreate,
		PrimaryKey:      &storage.PrimaryKeySpec{Name: "connection_id"},
		Columns: []storage.ColumnSpec{
			{Name: kdd.ColDuration, Type: storage.TypeBigInt},
			{Name: kdd.ColSrcBytes, Type: storage.TypeBigInt},
			{Name: kdd.ColDstBytes, Type: storage.TypeBigInt},
			{Name: kdd.ColLand, Type: storage.TypeBool},
			{Name: kdd.ColLoggedIn, Type: storage.TypeBool},
			{Name: kdd.ColCount, Type: storage.TypeInt},
			{Name: kdd.ColSrvCount, Type: storage.TypeInt},
			{Name: kdd.ColSerrorRate, Type: storage.TypeFloat},
			{Name: kdd.ColRerrorRate, Type: storage.TypeFloat},
			{Name: kdd.ColSameSrvRate, Type: storage.TypeFloat},
			{Name: kdd.ColDstHostCount, Type: storage.TypeInt},
			{Name: kdd.ColDstHostSrvCount, Type: storage.TypeInt},
			{Name: kdd.ColDifficultyLevel, Type: storage.TypeInt},
			fk(ColProtocolID, ref(TableProtocolTypes, ColProtocolID)),
			fk(ColServiceID, ref(TableServices, ColServiceID)),
			fk(ColFlagID, ref(TableFlags, ColFlagID)),
			fk(ColAttackID, ref(TableAttackTypes, ColAttackID)),
			fk(ColDestinationID, ref(TableDestination, ColDestinationID)),
		},
	}

	return []storage.TableSpec{categories, attacks, protocols, services, flags, destination, connections}
}

func ref(table, column string) string { return table + "(" + column + ")" }
