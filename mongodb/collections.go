package mongodb

// ClientsCollection holds one document per client, collections embedded.
const ClientsCollection = "oauth_clients"
