package gqlgateway

// schemaString is the minimal GraphQL-shaped surface over the Query
// Builder (SPEC_FULL.md supplement #2). It exposes only the fields the
// projected tables (spec.md §3) actually carry, never more.
const schemaString = `
schema {
	query: Query
}

type Query {
	transaction(id: String!): Transaction
	transactions(ids: [String!], to: String, since: String, status: String, minHeight: Int, maxHeight: Int, first: Int): [Transaction!]!
	block(sortOrder: String, minHeight: Int, maxHeight: Int, offset: Int, first: Int): [Block!]!
}

type Transaction {
	id: String!
	owner: String!
	target: String
	quantity: String
	reward: String
	dataSize: String
	dataRoot: String
	tags: [Tag!]!
	blockHeight: Int!
	blockIndepHash: String!
	blockTimestamp: Int!
}

type Tag {
	name: String!
	value: String!
}

type Block {
	indepHash: String!
	height: Int!
	timestamp: Int!
	previousBlock: String
}
`
