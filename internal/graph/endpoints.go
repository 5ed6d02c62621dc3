package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/bcdannyboy/SharepointAudit/internal/resilience"
)

// Operation keys scope retries and breaker state per endpoint family, so
// a failing permissions endpoint cannot open the circuit for enumeration.
const (
	opSitesDelta   = "sites_delta"
	opListDrives   = "list_drives"
	opListChildren = "list_children"
	opPermissions  = "get_permissions"
	opExpandGroup  = "expand_group"
)

// SitesDelta enumerates all sites in the tenant, or only changed sites
// when deltaToken is non-empty. fn is invoked once per page; the returned
// token resumes enumeration from this point on the next run.
func (c *Client) SitesDelta(ctx context.Context, deltaToken string, fn func([]Site) error) (string, error) {
	u := c.cfg.BaseURL + "/sites/delta"
	if deltaToken != "" {
		u += "?token=" + url.QueryEscape(deltaToken)
	}
	return c.getPages(ctx, opSitesDelta, u, resilience.CostDeltaQuery, func(raw json.RawMessage) error {
		var sites []Site
		if err := json.Unmarshal(raw, &sites); err != nil {
			return fmt.Errorf("decode sites page: %w", err)
		}
		return fn(sites)
	})
}

// DrivesForSite lists the document libraries of a site.
func (c *Client) DrivesForSite(ctx context.Context, siteID string) ([]Drive, error) {
	u := fmt.Sprintf("%s/sites/%s/drives", c.cfg.BaseURL, url.PathEscape(siteID))
	var drives []Drive
	_, err := c.getPages(ctx, opListDrives, u, resilience.CostSimpleGet, func(raw json.RawMessage) error {
		var page []Drive
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("decode drives page: %w", err)
		}
		drives = append(drives, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drives, nil
}

// ItemChildren lists the children of a drive item page by page. Pass
// "root" as itemID for the drive root.
func (c *Client) ItemChildren(ctx context.Context, driveID, itemID string, fn func([]DriveItem) error) error {
	u := fmt.Sprintf("%s/drives/%s/items/%s/children?$top=200",
		c.cfg.BaseURL, url.PathEscape(driveID), url.PathEscape(itemID))
	_, err := c.getPages(ctx, opListChildren, u, resilience.CostSimpleGet, func(raw json.RawMessage) error {
		var items []DriveItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("decode children page: %w", err)
		}
		return fn(items)
	})
	return err
}

// SitePermissions lists the role assignments granted directly on a site.
func (c *Client) SitePermissions(ctx context.Context, siteID string) ([]Permission, error) {
	u := fmt.Sprintf("%s/sites/%s/permissions", c.cfg.BaseURL, url.PathEscape(siteID))
	return c.listPermissions(ctx, u)
}

// ItemPermissions lists the role assignments on a drive item. Pass "root"
// as itemID for the library itself.
func (c *Client) ItemPermissions(ctx context.Context, driveID, itemID string) ([]Permission, error) {
	u := fmt.Sprintf("%s/drives/%s/items/%s/permissions",
		c.cfg.BaseURL, url.PathEscape(driveID), url.PathEscape(itemID))
	return c.listPermissions(ctx, u)
}

func (c *Client) listPermissions(ctx context.Context, u string) ([]Permission, error) {
	var perms []Permission
	_, err := c.getPages(ctx, opPermissions, u, resilience.CostComplexGet, func(raw json.RawMessage) error {
		var page []Permission
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("decode permissions page: %w", err)
		}
		perms = append(perms, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return perms, nil
}

// TransitiveGroupMembers lists every member of a group including members
// of nested groups, as flattened by the directory.
func (c *Client) TransitiveGroupMembers(ctx context.Context, groupID string) ([]DirectoryMember, error) {
	u := fmt.Sprintf("%s/groups/%s/transitiveMembers?$top=999",
		c.cfg.BaseURL, url.PathEscape(groupID))
	var members []DirectoryMember
	_, err := c.getPages(ctx, opExpandGroup, u, resilience.CostGetWithExpand, func(raw json.RawMessage) error {
		var page []DirectoryMember
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("decode members page: %w", err)
		}
		members = append(members, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}
