package authz

import (
	"github.com/google/uuid"

	"github.com/netsblox/cloud-go/internal/network"
	"github.com/netsblox/cloud-go/internal/project"
	"github.com/netsblox/cloud-go/internal/user"
)

// Test constructors mint witnesses without evaluating any predicate. They
// exist so tests of the core actions can hand-build authorization proof.

func TestViewUser(target *user.User) *ViewUser      { return &ViewUser{target: target} }
func TestEditUser(target *user.User) *EditUser      { return &EditUser{target: target} }
func TestListUsers(username string) *ListUsers      { return &ListUsers{username: username} }
func TestBanUser(target *user.User) *BanUser        { return &BanUser{target: target} }
func TestSetPassword(username string) *SetPassword  { return &SetPassword{username: username} }
func TestSetPasswordToken(host string) *SetPasswordToken {
	return &SetPasswordToken{host: host}
}

func TestCreateUser(role user.Role, groupID *uuid.UUID) *CreateUser {
	return &CreateUser{role: role, groupID: groupID}
}

func TestViewProject(m *project.Metadata) *ViewProject     { return &ViewProject{metadata: m} }
func TestEditProject(m *project.Metadata) *EditProject     { return &EditProject{metadata: m} }
func TestDeleteProject(m *project.Metadata) *DeleteProject { return &DeleteProject{metadata: m} }
func TestModerateProjects(username string) *ModerateProjects {
	return &ModerateProjects{username: username}
}

func TestListRooms(username string) *ListRooms     { return &ListRooms{username: username} }
func TestListClients(username string) *ListClients { return &ListClients{username: username} }
func TestViewClient(info *network.ClientInfo) *ViewClient {
	return &ViewClient{info: info}
}
func TestEvictClient(clientID string) *EvictClient { return &EvictClient{clientID: clientID} }
func TestSendMessage(host string) *SendMessage     { return &SendMessage{host: host} }
func TestInviteLink(sender, target string) *InviteLink {
	return &InviteLink{sender: sender, target: target}
}
